package httpheader

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		value     string
		canonical string
		wantErr   bool
	}{
		{name: "valid", header: "authorization", value: "Bearer abc", canonical: "Authorization"},
		{name: "tab in value", header: "X-Tenant", value: "dev\tblue", canonical: "X-Tenant"},
		{name: "empty value", header: "X-Empty", value: "", canonical: "X-Empty"},
		{name: "empty name", header: "", wantErr: true},
		{name: "space in name", header: "X Tenant", value: "a", wantErr: true},
		{name: "surrounding space", header: " X-Tenant", value: "a", wantErr: true},
		{name: "newline in value", header: "X-Tenant", value: "a\r\nInjected: 1", wantErr: true},
		{name: "control byte", header: "X-Tenant", value: "a\x01", wantErr: true},
		{name: "hop by hop", header: "transfer-encoding", value: "chunked", wantErr: true},
		{name: "host", header: "Host", value: "otel.example.com", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Validate(tc.header, tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.canonical {
				t.Fatalf("canonical name: got %q want %q", got, tc.canonical)
			}
		})
	}
}

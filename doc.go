/*
Package subwarm documents the subwarm module.

This module is CLI-first and ships the subwarm command:

	go install github.com/nuetzliches/subwarm/cmd/subwarm@latest

The implementation lives in internal packages and is not a stable public Go
API.
*/
package subwarm

package preload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	StrategyDirectAPI     = "direct_api"
	StrategyHiddenFrame   = "hidden_frame"
	StrategyBackgroundTab = "background_tab"
)

const (
	DefaultHiddenFrameLoadTimeout = 10 * time.Second
	DefaultHiddenFrameSettle      = 5 * time.Second
	DefaultBackgroundTabSettle    = 8 * time.Second
	DefaultBackgroundTabTimeout   = 15 * time.Second
	DefaultMaxOpenTabs            = 50
)

type Availability struct {
	Available bool
	Count     int
}

type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, videoID string) (Availability, error)
}

// Surface is a loaded hidden frame or background tab.
type Surface interface {
	Close() error
}

// SurfaceLoader loads a video into an invisible zero-size surface and blocks
// until it reports loaded or ctx ends. When a surface was created it is
// returned even together with an error so the caller can release it.
type SurfaceLoader interface {
	LoadHiddenSurface(ctx context.Context, videoID string) (Surface, error)
}

// TabCounter reports how many page targets the browser currently holds.
type TabCounter interface {
	OpenTabCount(ctx context.Context) (int, error)
}

// TabLoader opens non-focused tabs. The same rule about returning the surface
// alongside an error applies.
type TabLoader interface {
	TabCounter
	LoadBackgroundTab(ctx context.Context, videoID string) (Surface, error)
}

// DirectAPIStrategy only asks the subtitle server whether data exists.
type DirectAPIStrategy struct {
	Checker AvailabilityChecker
}

func (s *DirectAPIStrategy) Name() string { return StrategyDirectAPI }

func (s *DirectAPIStrategy) Attempt(ctx context.Context, req Request) error {
	return checkAvailable(ctx, s.Checker, req.VideoID)
}

// HiddenFrameStrategy loads the embed player in a throwaway page. When Tabs
// is set that page counts against MaxTabs like a background tab does.
type HiddenFrameStrategy struct {
	Loader      SurfaceLoader
	Checker     AvailabilityChecker
	Tabs        TabCounter
	MaxTabs     int
	LoadTimeout time.Duration
	Settle      time.Duration
	Logger      *slog.Logger
}

func (s *HiddenFrameStrategy) Name() string { return StrategyHiddenFrame }

func (s *HiddenFrameStrategy) Attempt(ctx context.Context, req Request) error {
	loadTimeout := s.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = DefaultHiddenFrameLoadTimeout
	}
	if s.Tabs != nil {
		if err := underTabCeiling(ctx, s.Tabs, s.MaxTabs); err != nil {
			return err
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	surface, err := s.Loader.LoadHiddenSurface(loadCtx, req.VideoID)
	cancel()
	if surface != nil {
		defer closeSurface(s.Logger, s.Name(), req.VideoID, surface)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: hidden frame did not load within %s", ErrStrategyTimeout, loadTimeout)
		}
		return fmt.Errorf("%w: load hidden frame: %w", ErrStrategyUnavailable, err)
	}

	if err := sleepContext(ctx, s.Settle); err != nil {
		return fmt.Errorf("%w: %w", ErrStrategyUnavailable, err)
	}
	return checkAvailable(ctx, s.Checker, req.VideoID)
}

type BackgroundTabStrategy struct {
	Tabs    TabLoader
	Checker AvailabilityChecker
	MaxTabs int
	Settle  time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
}

func (s *BackgroundTabStrategy) Name() string { return StrategyBackgroundTab }

func (s *BackgroundTabStrategy) Attempt(ctx context.Context, req Request) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultBackgroundTabTimeout
	}
	if err := underTabCeiling(ctx, s.Tabs, s.MaxTabs); err != nil {
		return err
	}

	tabCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	}

	tab, err := s.Tabs.LoadBackgroundTab(tabCtx, req.VideoID)
	if tab != nil {
		defer closeSurface(s.Logger, s.Name(), req.VideoID, tab)
	}
	if err != nil {
		if timedOut(err) {
			return fmt.Errorf("%w: background tab did not load within %s", ErrStrategyTimeout, timeout)
		}
		return fmt.Errorf("%w: load background tab: %w", ErrStrategyUnavailable, err)
	}

	if err := sleepContext(tabCtx, s.Settle); err != nil {
		if timedOut(err) {
			return fmt.Errorf("%w: background tab exceeded %s", ErrStrategyTimeout, timeout)
		}
		return fmt.Errorf("%w: %w", ErrStrategyUnavailable, err)
	}
	err = checkAvailable(tabCtx, s.Checker, req.VideoID)
	if err != nil && timedOut(err) {
		return fmt.Errorf("%w: background tab exceeded %s", ErrStrategyTimeout, timeout)
	}
	return err
}

func checkAvailable(ctx context.Context, checker AvailabilityChecker, videoID string) error {
	av, err := checker.CheckAvailability(ctx, videoID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStrategyUnavailable, err)
	}
	if !av.Available {
		return fmt.Errorf("%w: %d subtitles", ErrStrategyUnavailable, av.Count)
	}
	return nil
}

func closeSurface(logger *slog.Logger, strategy, videoID string, s Surface) {
	if err := s.Close(); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("preload_surface_close_failed",
			slog.String("strategy", strategy),
			slog.String("video_id", videoID),
			slog.Any("err", err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func underTabCeiling(ctx context.Context, tabs TabCounter, maxTabs int) error {
	if maxTabs <= 0 {
		maxTabs = DefaultMaxOpenTabs
	}
	open, err := tabs.OpenTabCount(ctx)
	if err != nil {
		return fmt.Errorf("%w: count open tabs: %w", ErrStrategyUnavailable, err)
	}
	if open >= maxTabs {
		return fmt.Errorf("%w: %d open tabs (limit %d)", ErrStrategySkipped, open, maxTabs)
	}
	return nil
}

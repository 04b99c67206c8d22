package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"

	"imagery-explorer/internal/cache"
	"imagery-explorer/internal/common"
	"imagery-explorer/internal/config"
	"imagery-explorer/internal/explorer"
	"imagery-explorer/internal/exports"
	"imagery-explorer/internal/handlers/api"
	"imagery-explorer/internal/handlers/tileserver"
	"imagery-explorer/internal/metrics"
	"imagery-explorer/internal/ratelimit"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
	"imagery-explorer/internal/taskqueue"
	"imagery-explorer/internal/timelapse"
)

// Set via -ldflags at build time
var (
	PostHogKey  string
	PostHogHost string
)

// AppVersion and Commit identify the build, set via -ldflags
var (
	AppVersion = "0.0.0-dev"
	Commit     = "unknown"
)

// memCacheEntries bounds the in-memory tile cache. Tiles average tens
// of kilobytes, so this stays well under 100 MB.
const memCacheEntries = 1000

// App owns the explorer's subsystems and wires them together: settings,
// workspace store, collection registry, rate limiting, tile caches, the
// export queue, and the HTTP server.
type App struct {
	dataDir string

	settings   *config.Manager
	store      *explorer.Store
	registry   *registry.Registry
	rateLimits *ratelimit.Handler
	taskQueue  *taskqueue.QueueManager
	memCache   *cache.MemoryTileCache
	diskCache  *cache.PersistentTileCache
	limiter    *ratelimit.ClientLimiter
	server     *tileserver.Server

	// exportFetcher is shared across export tasks so they reuse one
	// connection pool against the tile renderer.
	exportFetcher *exports.TileFetcher

	phClient posthog.Client

	catalogMu sync.Mutex
	catalog   *stac.Client

	enrichCancel context.CancelFunc
}

// NewApp constructs the application and loads persisted state from the
// data directory. Nothing is listening yet; call Start.
func NewApp(dataDir string) (*App, error) {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	settings, err := config.NewManager(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	store, err := explorer.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace store: %w", err)
	}

	memCache, err := cache.NewMemoryTileCache(memCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	s := settings.Get()
	diskCache, err := cache.NewPersistentTileCache(cache.GetCacheDir(), s.CacheMaxSizeMB, s.CacheTTLDays)
	if err != nil {
		// A broken disk cache degrades to memory-only serving
		log.Printf("[App] Disk tile cache unavailable: %v", err)
		diskCache = nil
	}

	rateLimits := ratelimit.NewHandler(nil)
	rateLimits.SetAutoRetry(!s.DisableAutoRetry)

	app := &App{
		dataDir:       dataDir,
		settings:      settings,
		store:         store,
		registry:      registry.Default(),
		rateLimits:    rateLimits,
		taskQueue:     taskqueue.NewQueueManager(filepath.Join(dataDir, "queue")),
		memCache:      memCache,
		diskCache:     diskCache,
		limiter:       ratelimit.NewClientLimiter(20, 40),
		exportFetcher: exports.NewTileFetcher(rateLimits, common.ProviderTiTiler),
	}

	if PostHogKey != "" {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			log.Printf("[App] Failed to initialize telemetry client: %v", err)
		} else {
			app.phClient = client
		}
	}

	return app, nil
}

// Start wires the subsystems together and begins serving on addr. The
// static filesystem holds the web UI; nil serves the API and tiles only.
func (a *App) Start(addr string, static fs.FS, devMode bool) error {
	a.taskQueue.SetExecutor(a)
	a.taskQueue.SetCallbacks(
		func(status taskqueue.QueueStatus) {
			metrics.SetQueueDepth(status.PendingTasks)
		},
		nil,
		a.onTaskComplete,
		func(title, message, notifType string) {
			log.Printf("[Queue] %s: %s (%s)", title, message, notifType)
		},
	)

	a.rateLimits.SetOnRateLimit(func(event ratelimit.RateLimitEvent) {
		metrics.RecordRateLimited(event.Provider)
		a.TrackEvent("rate_limit_hit", map[string]interface{}{
			"provider":   event.Provider,
			"statusCode": event.StatusCode,
			"attempt":    event.RetryAttempt,
		})
	})
	a.rateLimits.SetOnRecovered(func(provider string) {
		log.Printf("[App] Provider %s recovered from rate limiting", provider)
	})

	a.limiter.StartCleanup(5 * time.Minute)

	apiHandler := &api.Handler{
		Store:      a.store,
		Registry:   a.registry,
		Queue:      a.taskQueue,
		Settings:   a.settings,
		RateLimits: a.rateLimits,
		Catalog:    a.Catalog,
		Endpoints:  a.Endpoints,
		TrackEvent: a.TrackEvent,
		ExportDir:  a.exportRoot,
	}

	a.server = tileserver.NewServer(tileserver.Config{
		Addr:       addr,
		Static:     static,
		Registry:   a.registry,
		Store:      a.store,
		Settings:   a.settings,
		MemCache:   a.memCache,
		DiskCache:  a.diskCache,
		RateLimits: a.rateLimits,
		Limiter:    a.limiter,
		API:        apiHandler,
		Endpoints:  a.Endpoints,
		BasemapURL: config.GetBasemapURL(),
		DevMode:    devMode,
	})

	if err := a.server.Start(); err != nil {
		return err
	}

	// Fill live collection extents in the background; the static
	// registry serves until the catalog answers.
	enrichCtx, cancel := context.WithCancel(context.Background())
	a.enrichCancel = cancel
	go a.registry.Enrich(enrichCtx, a.Catalog())

	if pending := a.taskQueue.GetStatus().PendingTasks; pending > 0 {
		log.Printf("[App] %d pending export tasks restored; resume the queue to run them", pending)
		metrics.SetQueueDepth(pending)
	}

	a.TrackEvent("app_started", map[string]interface{}{
		"version": AppVersion,
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})

	return nil
}

// URL returns the server's base URL once Start has succeeded
func (a *App) URL() string {
	if a.server == nil {
		return ""
	}
	return a.server.URL()
}

// Shutdown stops the server and releases every subsystem, waiting for
// in-flight requests up to the context deadline.
func (a *App) Shutdown(ctx context.Context) {
	if a.enrichCancel != nil {
		a.enrichCancel()
	}

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			log.Printf("[App] Server shutdown: %v", err)
		}
	}

	a.taskQueue.Close()
	a.rateLimits.Close()
	a.limiter.Close()
	if a.diskCache != nil {
		a.diskCache.Close()
	}

	if a.phClient != nil {
		if err := a.phClient.Close(); err != nil {
			log.Printf("[App] Failed to close telemetry client: %v", err)
		}
	}
}

// TrackEvent sends an analytics event when telemetry is configured and
// the user has not opted out.
func (a *App) TrackEvent(event string, properties map[string]interface{}) {
	if a.phClient == nil || a.settings.Get().TelemetryDisabled {
		return
	}

	props := posthog.NewProperties().Set("app_version", AppVersion)
	for k, v := range properties {
		props.Set(k, v)
	}

	if err := a.phClient.Enqueue(posthog.Capture{
		DistinctId: "backend_user",
		Event:      event,
		Properties: props,
	}); err != nil {
		log.Printf("[App] Failed to track event %s: %v", event, err)
	}
}

// Catalog returns the search client for the currently configured STAC
// endpoint. The client is rebuilt when the endpoint changes so settings
// edits apply without a restart.
func (a *App) Catalog() *stac.Client {
	endpoint := config.GetSTACEndpoint(a.settings.Get())

	a.catalogMu.Lock()
	defer a.catalogMu.Unlock()
	if a.catalog == nil || a.catalog.BaseURL() != endpoint {
		a.catalog = stac.NewClient(endpoint, a.rateLimits)
	}
	return a.catalog
}

// Endpoints reports the current upstream STAC and TiTiler endpoints
func (a *App) Endpoints() explorer.Endpoints {
	s := a.settings.Get()
	return explorer.Endpoints{
		STAC:    config.GetSTACEndpoint(s),
		TiTiler: config.GetTiTilerEndpoint(s),
	}
}

// exportRoot returns the directory finished exports live under
func (a *App) exportRoot() string {
	return a.settings.Get().ExportPath
}

// onTaskComplete records export metrics when a queued task finishes
func (a *App) onTaskComplete(taskID string, success bool, err error) {
	task, getErr := a.taskQueue.GetTask(taskID)
	if getErr != nil {
		return
	}

	status := "ok"
	if !success {
		status = "error"
	}
	var duration time.Duration
	if started, parseErr := time.Parse(time.RFC3339, task.StartedAt); parseErr == nil {
		duration = time.Since(started)
	}
	metrics.RecordExport(task.Format, status, duration)

	if !success && err != nil {
		log.Printf("[App] Export task %s failed: %v", taskID, err)
	}
}

// ExecuteExportTask runs one queued export task: it downloads every
// scene into a per-task directory under the export path and, for gif
// tasks, assembles the stitched frames into an animated timelapse. The
// primary output path is recorded on the task for the download endpoint.
func (a *App) ExecuteExportTask(ctx context.Context, task *taskqueue.ExportTask, progressChan chan<- taskqueue.TaskProgress) error {
	format, err := common.ParseDownloadFormat(task.Format)
	if err != nil {
		return err
	}
	if len(task.Items) == 0 {
		return fmt.Errorf("task has no items to export")
	}

	outputDir := filepath.Join(a.exportRoot(), task.ID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	state := explorer.LayerState{Band: task.Band, Rescale: task.Rescale}
	scenes := make([]exports.Scene, 0, len(task.Items))
	for _, item := range task.Items {
		scenes = append(scenes, exports.Scene{
			ItemID:      item.ID,
			Band:        task.Band,
			Date:        item.Date,
			URLTemplate: item.URL,
			LayerKey:    explorer.CacheLayerKey(item.ID, state),
		})
	}

	logPrefix := fmt.Sprintf("[Export %s]", shortID(task.ID))
	emitLog := func(message string) {
		log.Printf("%s %s", logPrefix, message)
	}
	emitProgress := func(p exports.DownloadProgress) {
		current := p.CurrentItem
		if current == 0 {
			current = 1
		}
		progressChan <- taskqueue.TaskProgress{
			CurrentPhase:   "downloading",
			TotalItems:     len(scenes),
			CurrentItem:    current,
			TilesTotal:     p.Total,
			TilesCompleted: p.Downloaded,
			Percent:        p.Percent,
		}
	}

	downloader := exports.NewDownloader(
		a.exportFetcher,
		a.diskCache,
		outputDir,
		emitProgress,
		emitLog,
		a.TrackEvent,
		config.GetMaxWorkers(a.settings.Get()),
	)

	if len(scenes) == 1 && !format.SaveGIF {
		outputPath, err := downloader.ExportScene(ctx, scenes[0], task.BBox, task.Zoom, format)
		if outputPath != "" {
			task.OutputPath = outputPath
		}
		if err != nil {
			return err
		}
	} else {
		results, err := downloader.ExportTimeSeries(ctx, scenes, task.BBox, task.Zoom, format)
		if err != nil {
			return err
		}
		task.OutputPath = outputDir

		if format.SaveGIF {
			gifPath, err := a.assembleTimelapse(task, results, outputDir, progressChan, emitLog)
			if err != nil {
				return err
			}
			task.OutputPath = gifPath
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	progressChan <- taskqueue.TaskProgress{
		CurrentPhase: "completed",
		TotalItems:   len(scenes),
		CurrentItem:  len(scenes),
		Percent:      100,
	}

	return nil
}

// assembleTimelapse encodes the exported frames of a range task into an
// animated GIF and returns its path.
func (a *App) assembleTimelapse(task *taskqueue.ExportTask, results []exports.FrameResult, outputDir string, progressChan chan<- taskqueue.TaskProgress, emitLog func(string)) (string, error) {
	frames := make([]timelapse.Frame, 0, len(results))
	for _, r := range results {
		if r.Skipped || r.OutputPath == "" {
			continue
		}
		frames = append(frames, timelapse.Frame{Path: r.OutputPath, Date: r.Date})
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames available for timelapse")
	}

	opts := timelapse.DefaultOptions()
	if t := task.Timelapse; t != nil {
		if t.MaxDimension > 0 {
			opts.MaxDimension = t.MaxDimension
		}
		if t.FrameDelay > 0 {
			opts.FrameDelay = t.FrameDelay
		}
		opts.LoopCount = t.LoopCount
		opts.ShowDates = t.ShowDateOverlay
	}

	assembler := timelapse.NewAssembler(opts, func(current, total, percent int, status string) {
		progressChan <- taskqueue.TaskProgress{
			CurrentPhase: "encoding",
			TotalItems:   total,
			CurrentItem:  current,
			Percent:      percent,
		}
	}, emitLog)
	defer assembler.Close()

	return assembler.Assemble(timelapse.Request{
		CollectionID: task.Collection,
		Band:         task.Band,
		BBox:         task.BBox,
		Zoom:         task.Zoom,
		Frames:       frames,
	}, outputDir)
}

// shortID abbreviates a task ID for log prefixes
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

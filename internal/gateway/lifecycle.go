// Package gateway hosts the Conclave HTTP surface.
//
// lifecycle.go contains server lifecycle management including startup,
// shutdown, and background task management (task scheduler, job pruning,
// artifact cleanup).
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/conclave-ai/conclave/internal/tasks"
)

// Start brings up background services and the HTTP listener. It returns once
// the listener is accepting; the caller blocks on its own signal context and
// calls Stop to shut down.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Acquire singleton lock to prevent multiple gateway instances
	stateDir := s.config.Workspace.Path
	if stateDir == "" {
		stateDir = ".conclave"
	}
	if !(s.config.Cluster.Enabled && s.config.Cluster.AllowMultipleGateways) {
		lock, err := AcquireEnhancedGatewayLock(LockOptions{
			StateDir:   stateDir,
			ConfigPath: s.configPath,
		})
		if err != nil {
			return fmt.Errorf("failed to acquire gateway lock: %w", err)
		}
		s.singletonLock = lock
	}

	if s.toolManager != nil {
		if err := s.toolManager.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start tool manager: %w", err)
		}
	}

	if err := s.startTaskScheduler(runCtx); err != nil {
		return fmt.Errorf("failed to start task scheduler: %w", err)
	}

	s.startJobPruning(runCtx)

	if s.artifactCleanup != nil {
		go s.artifactCleanup.Start(runCtx)
	}

	if s.quotaSweep != nil {
		if err := s.quotaSweep.Start(runCtx); err != nil {
			s.logger.Warn("quota sweeper failed to start", "error", err)
		}
	}

	if err := s.startHTTPServer(runCtx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the server and all background services.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server", "uptime", time.Since(s.startTime).String())

	if s.cancel != nil {
		s.cancel()
	}

	// Cancel background discovery goroutines
	if s.startupCancel != nil {
		s.startupCancel()
	}

	s.stopHTTPServer(ctx)

	// Stop in-flight council sessions and wait for their drivers to exit
	s.councilMu.Lock()
	runs := make([]*councilRun, 0, len(s.councilSessions))
	for _, run := range s.councilSessions {
		runs = append(runs, run)
	}
	s.councilMu.Unlock()
	for _, run := range runs {
		run.engine.Stop()
		run.cancel()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
		}
	}

	if err := s.waitForBackground(ctx); err != nil {
		return err
	}

	if s.taskScheduler != nil {
		if err := s.taskScheduler.Stop(ctx); err != nil {
			s.logger.Error("error stopping task scheduler", "error", err)
		}
	}
	if closer, ok := s.taskStore.(tasks.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing task store", "error", err)
		}
	}
	if s.toolManager != nil {
		if err := s.toolManager.Stop(ctx); err != nil {
			s.logger.Error("error stopping tool manager", "error", err)
		}
	}
	if s.quotaSweep != nil {
		s.quotaSweep.Stop()
	}
	if s.firecrackerBackend != nil {
		if err := s.firecrackerBackend.Close(); err != nil {
			s.logger.Error("error closing firecracker backend", "error", err)
		}
	}
	if closer, ok := s.sessions.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing session store", "error", err)
		}
	}
	if closer, ok := s.sessionLocker.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing session locker", "error", err)
		}
	}
	if s.artifactCleanup != nil {
		s.artifactCleanup.Stop()
	}
	if closer, ok := s.artifactRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing artifact repository", "error", err)
		}
	}
	if s.tracePlugin != nil {
		if err := s.tracePlugin.Close(); err != nil {
			s.logger.Error("error closing trace plugin", "error", err)
		}
	}
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("error shutting down tracer", "error", err)
		}
	}
	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			s.logger.Error("error closing audit logger", "error", err)
		}
	}
	if err := s.stores.Close(); err != nil {
		s.logger.Error("error closing storage stores", "error", err)
	}
	if closer, ok := s.jobStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("error closing job store", "error", err)
		}
	}

	// Release the singleton lock
	if s.singletonLock != nil {
		if err := s.singletonLock.Release(); err != nil {
			s.logger.Error("error releasing gateway lock", "error", err)
		}
	}

	return nil
}

// waitForBackground waits for background goroutines tracked on s.wg, bounded
// by the shutdown context.
func (s *Server) waitForBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for background tasks: %w", ctx.Err())
	}
}

// startTaskScheduler initializes and starts the task scheduler if enabled.
func (s *Server) startTaskScheduler(ctx context.Context) error {
	if s.taskStore == nil || !s.config.Tasks.Enabled {
		return nil
	}

	// Ensure runtime is available (needed for task execution)
	runtime, err := s.ensureRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime for task scheduler: %w", err)
	}

	executor := tasks.NewAgentExecutor(runtime, s.sessions, tasks.AgentExecutorConfig{
		Logger: s.logger.With("component", "task-executor"),
	})

	schedulerCfg := tasks.DefaultSchedulerConfig()
	if s.config.Tasks.WorkerID != "" {
		schedulerCfg.WorkerID = s.config.Tasks.WorkerID
	}
	if s.config.Tasks.PollInterval > 0 {
		schedulerCfg.PollInterval = s.config.Tasks.PollInterval
	}
	if s.config.Tasks.AcquireInterval > 0 {
		schedulerCfg.AcquireInterval = s.config.Tasks.AcquireInterval
	}
	if s.config.Tasks.LockDuration > 0 {
		schedulerCfg.LockDuration = s.config.Tasks.LockDuration
	}
	if s.config.Tasks.MaxConcurrency > 0 {
		schedulerCfg.MaxConcurrency = s.config.Tasks.MaxConcurrency
	}
	if s.config.Tasks.CleanupInterval > 0 {
		schedulerCfg.CleanupInterval = s.config.Tasks.CleanupInterval
	}
	if s.config.Tasks.StaleTimeout > 0 {
		schedulerCfg.StaleTimeout = s.config.Tasks.StaleTimeout
	}
	schedulerCfg.Logger = s.logger.With("component", "task-scheduler")

	s.taskScheduler = tasks.NewScheduler(s.taskStore, executor, schedulerCfg)

	if err := s.taskScheduler.Start(ctx); err != nil {
		return fmt.Errorf("task scheduler start: %w", err)
	}

	s.logger.Info("task scheduler started",
		"worker_id", s.taskScheduler.WorkerID(),
		"max_concurrency", schedulerCfg.MaxConcurrency,
	)

	return nil
}

// startJobPruning starts a background goroutine that prunes old jobs.
func (s *Server) startJobPruning(ctx context.Context) {
	if s.jobStore == nil {
		return
	}
	retention := s.config.Tools.Jobs.Retention
	interval := s.config.Tools.Jobs.PruneInterval
	if retention <= 0 || interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := s.jobStore.Prune(ctx, retention)
				if err != nil {
					s.logger.Error("job pruning failed", "error", err)
				} else if pruned > 0 {
					s.logger.Info("pruned old jobs", "count", pruned)
				}
			}
		}
	}()
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"social-realtime/internal/config"
	"social-realtime/internal/logging"
	"social-realtime/internal/realtime"
	"social-realtime/internal/runstatus"
)

type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	status statusBoard
}

type StartHooks struct {
	OnStatus  func(identity realtime.Identity, status string)
	OnMessage func(realtime.Message)
	OnExit    func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	service, err := c.prepare(opts, logger, hooks)
	if err != nil {
		return err
	}
	return c.run(service, logger, hooks)
}

func (c *Controller) prepare(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return nil, fmt.Errorf("realtime client is already running")
	}
	logger.Debug("runtime start requested",
		logging.Field("token_file", opts.TokenFile),
		logging.Field("chat_topics", len(opts.ChatTopics)),
		logging.Field("notification_topics", len(opts.NotifyTopics)),
	)
	return NewServiceWithHooks(opts, logger, c.wrapHooks(hooks))
}

func (c *Controller) wrapHooks(hooks StartHooks) StartHooks {
	onStatus := hooks.OnStatus
	hooks.OnStatus = func(identity realtime.Identity, status string) {
		if !c.status.update(identity, status) {
			return
		}
		if onStatus != nil {
			onStatus(identity, status)
		}
	}
	return hooks
}

func (c *Controller) run(service Service, logger *logging.Logger, hooks StartHooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("realtime client is already running")
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	c.cancel = cancel
	c.running = true
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
			runErr = nil
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})

	return nil
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status is the last reported status of identity, Disconnected before any.
func (c *Controller) Status(identity realtime.Identity) string {
	return c.status.get(identity)
}

type statusBoard struct {
	mu      sync.Mutex
	current map[realtime.Identity]string
}

func (b *statusBoard) update(identity realtime.Identity, status string) bool {
	trimmed := strings.TrimSpace(status)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		b.current = map[realtime.Identity]string{}
	}
	if b.current[identity] == trimmed {
		return false
	}
	b.current[identity] = trimmed
	return true
}

func (b *statusBoard) get(identity realtime.Identity) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.current[identity]; ok {
		return s
	}
	return runstatus.Disconnected
}

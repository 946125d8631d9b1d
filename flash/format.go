package flash

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/moffa90/go-nvflash/protocol"
)

// format formats targets on a worker goroutine while the calling goroutine
// reports progress ticks. With all set the device is first asked to format
// everything at once; NotSupported falls back to formatting targets one by
// one inside the same worker.
//
// The worker holds the single semaphore slot until it is done, so a
// successful Acquire by the caller means the worker has returned.
func (s *Session) format(ctx context.Context, targets []verifyTarget, all bool) error {
	sem := semaphore.NewWeighted(1)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}

	var werr error
	go func() {
		defer sem.Release(1)
		werr = s.formatWorker(ctx, targets, all)
	}()

	s.startPhase(PhaseFormatting, 0)
	start := time.Now()
	for tick := 1; ; tick++ {
		pctx, cancel := context.WithTimeout(context.Background(), s.config.PollInterval)
		err := sem.Acquire(pctx, 1)
		cancel()
		if err == nil {
			break
		}
		s.reportProgress(Progress{
			Phase:       PhaseFormatting,
			Tick:        tick,
			ElapsedTime: time.Since(start),
		})
	}
	sem.Release(1)

	if werr != nil {
		return werr
	}
	s.logInfo("format complete", "elapsed", time.Since(start).String())
	return nil
}

func (s *Session) formatWorker(ctx context.Context, targets []verifyTarget, all bool) error {
	if all {
		err := s.exec(ctx, &protocol.FormatAll{})
		if err == nil {
			return nil
		}
		if !protocol.IsNotSupported(err) {
			return err
		}
		s.logInfo("format all not supported, formatting partitions individually")
	}

	for _, t := range targets {
		if err := s.exec(ctx, &protocol.FormatPartition{ID: t.id}); err != nil {
			return fmt.Errorf("format partition %s: %w", t.name, err)
		}
		s.logDebug("partition formatted", "partition", t.name, "id", t.id)
	}
	return nil
}

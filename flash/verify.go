package flash

import (
	"context"
	"sort"

	"github.com/moffa90/go-nvflash/protocol"
)

// markVerify records a partition enabled for verification.
func (s *Session) markVerify(name string, id uint32) {
	for _, v := range s.verifyIDs {
		if v.id == id {
			return
		}
	}
	s.verifyIDs = append(s.verifyIDs, verifyTarget{name: name, id: id})
}

// notDownloaded returns, sorted, the partitions named for verification that
// no download enabled.
func (s *Session) notDownloaded() []string {
	var names []string
	for name := range s.verifyNames {
		marked := false
		for _, v := range s.verifyIDs {
			if v.name == name {
				marked = true
				break
			}
		}
		if !marked {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// verifyPartitions checks every partition marked during the downloads and
// ends the verification pass. A partition the device reports as bad is
// collected into failed; any other error stops the pass.
func (s *Session) verifyPartitions(ctx context.Context) (failed []string, err error) {
	for _, name := range s.notDownloaded() {
		s.logInfo("partition marked for verification was not downloaded", "partition", name)
	}
	if len(s.verifyIDs) == 0 {
		return nil, nil
	}

	s.startPhase(PhaseVerifying, 0)
	for i, v := range s.verifyIDs {
		if err := s.exec(ctx, &protocol.VerifyPartition{ID: v.id}); err != nil {
			if !protocol.IsStatusError(err) {
				return failed, err
			}
			s.logError("verification failed", "partition", v.name, "error", err)
			failed = append(failed, v.name)
			continue
		}
		s.logInfo("partition verified", "partition", v.name)
		s.reportProgress(Progress{
			Phase:      PhaseVerifying,
			Partition:  v.name,
			Percentage: float64(i+1) / float64(len(s.verifyIDs)) * 100,
		})
	}

	if err := s.exec(ctx, &protocol.EndVerifyPartition{}); err != nil {
		return failed, err
	}
	s.verifyIDs = nil
	return failed, nil
}

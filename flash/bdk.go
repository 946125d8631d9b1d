package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/moffa90/go-nvflash/cfgparse"
	"github.com/moffa90/go-nvflash/protocol"
)

// bdkArgs are the per-suite arguments set by an <arg:suite; ...> section.
type bdkArgs struct {
	instance uint32
	memAddr  uint32
	reserved uint32
}

// bdkTest is one <suite:...; test:...> entry of a test plan.
type bdkTest struct {
	suite string
	test  string
	args  bdkArgs
}

// testPlanParser accumulates a test plan. Arguments apply to the tests of
// their suite that follow them.
type testPlanParser struct {
	args  map[string]bdkArgs
	tests []bdkTest
	err   error
}

func (tp *testPlanParser) fail(format string, args ...interface{}) cfgparse.Status {
	tp.err = fmt.Errorf(format, args...)
	return cfgparse.Error
}

func (tp *testPlanParser) section(rec cfgparse.Record) cfgparse.Status {
	if len(rec) == 0 {
		return cfgparse.Continue
	}
	if suite, ok := rec.Get("arg"); ok {
		return tp.arguments(suite, rec)
	}

	var t bdkTest
	for _, p := range rec {
		switch p.Key {
		case "suite":
			t.suite = p.Value
		case "test":
			t.test = p.Value
		default:
			return tp.fail("invalid token %q", p.Key)
		}
	}
	if t.suite == "" {
		return tp.fail("test %q has no suite", t.test)
	}
	t.args = tp.args[t.suite]
	tp.tests = append(tp.tests, t)
	return cfgparse.Continue
}

func (tp *testPlanParser) arguments(suite string, rec cfgparse.Record) cfgparse.Status {
	var a bdkArgs
	for _, p := range rec {
		var dst *uint32
		switch p.Key {
		case "arg", "filename":
			continue
		case "instance":
			dst = &a.instance
		case "mem_add":
			dst = &a.memAddr
		case "reserved":
			dst = &a.reserved
		default:
			return tp.fail("invalid token %q", p.Key)
		}
		n, err := strconv.ParseUint(p.Value, 0, 32)
		if err != nil {
			return tp.fail("arg %s %s: %w", suite, p.Key, err)
		}
		*dst = uint32(n)
	}
	tp.args[suite] = a
	return cfgparse.Continue
}

// parseTestPlan reads the tests of a plan file in order.
func parseTestPlan(path string) ([]bdkTest, error) {
	tp := &testPlanParser{args: make(map[string]bdkArgs)}
	_, err := cfgparse.Parse(path, tp.section)
	if tp.err != nil {
		return nil, tp.err
	}
	if err != nil {
		return nil, err
	}
	if len(tp.tests) == 0 {
		return nil, errors.New("test plan has no test")
	}
	return tp.tests, nil
}

// dataReader reads a device data phase.
type dataReader struct {
	ctx context.Context
	s   *Session
}

func (r *dataReader) Read(p []byte) (int, error) {
	return r.s.t.DataReceive(r.ctx, p)
}

// runTests runs every test of o and records the results. Failing tests are
// reported after the whole plan ran.
func (s *Session) runTests(ctx context.Context, o *RunBdkTest) error {
	var (
		report strings.Builder
		failed int
	)
	r := &dataReader{ctx: ctx, s: s}

	for _, t := range o.tests {
		cmd := &protocol.RunBdkTest{
			Suite:    t.suite,
			Argument: t.test,
			Instance: t.args.instance,
			MemAddr:  t.args.memAddr,
			Reserved: t.args.reserved,
		}
		if err := s.send(ctx, cmd); err != nil {
			return err
		}
		for i := uint32(0); i < cmd.NumTests; i++ {
			res, err := protocol.ReadBdkResult(r)
			if err != nil {
				return fmt.Errorf("suite %s: %w", t.suite, err)
			}
			o.Results = append(o.Results, res)
			if !res.Passed() {
				failed++
				s.logError("test failed", "suite", res.Suite, "test", res.Test, "status", res.Status, "message", res.Message)
			}
			fmt.Fprintf(&report, "%s %s: %s (%s ms) %s\n", res.Suite, res.Test, res.Status, res.Elapsed, res.Message)
		}
		if err := s.waitStatus(ctx, "runbdktest "+t.suite); err != nil {
			return err
		}
	}

	if o.Out != "" {
		if err := os.WriteFile(o.Out, []byte(report.String()), 0o644); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	s.logInfo("tests complete", "run", len(o.Results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d tests failed", failed, len(o.Results))
	}
	return nil
}

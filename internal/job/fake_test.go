package job

import "time"

// fakeJob is a minimal Job implementation shared by this package's own
// tests and usable as a template by queue/executor tests.
type fakeJob struct {
	id       string
	deps     []string
	status   Status
	reason   string
	excl     bool
	req      ResourceRequest
	acquired Acquired
	timeout  time.Duration
	measure  *Measurements
}

func newFakeJob(id string, deps []string) *fakeJob {
	return &fakeJob{
		id:      id,
		deps:    deps,
		status:  Ready,
		req:     ResourceRequest{{"cpus": 1}},
		timeout: time.Second,
		measure: NewMeasurements(),
	}
}

func (f *fakeJob) ID() string          { return f.id }
func (f *fakeJob) DisplayName() string { return f.id }
func (f *fakeJob) Status() Status      { return f.status }
func (f *fakeJob) SetStatus(s Status, reason string) {
	f.status = s
	f.reason = reason
}
func (f *fakeJob) Dependencies() []string        { return f.deps }
func (f *fakeJob) Exclusive() bool                { return f.excl }
func (f *fakeJob) RequiredResources() ResourceRequest { return f.req }
func (f *fakeJob) AssignResources(a Acquired)     { f.acquired = a }
func (f *fakeJob) FreeResources() Acquired {
	a := f.acquired
	f.acquired = nil
	return a
}
func (f *fakeJob) Timeout() time.Duration         { return f.timeout }
func (f *fakeJob) RuntimeEstimate() time.Duration { return time.Second }
func (f *fakeJob) Measurements() *Measurements    { return f.measure }
func (f *fakeJob) Refresh() error                 { return nil }
func (f *fakeJob) Save() error                    { return nil }
func (f *fakeJob) ApplyResult(returnCode int, output string) {
	f.reason = output
	f.status = DeriveOutcome(returnCode, nil, output, false, false)
}

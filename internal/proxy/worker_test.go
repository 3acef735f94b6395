package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/OpenPrinting/goipp"
	"github.com/google/go-cmp/cmp"

	"github.com/istopwg/ippinfra/internal/device"
	"github.com/istopwg/ippinfra/internal/ipp"
)

// fakeInfra is a scriptable infrastructure printer serving the INFRA
// extension operations the worker and the startup scan use.
type fakeInfra struct {
	t *testing.T

	numDocs      int                  // number-of-documents in the job ticket
	docPayload   string               // Fetch-Document body
	notFetchable bool                 // Fetch-Job answers client-error-not-fetchable
	fetchable    map[int]ipp.JobState // Get-Jobs listing

	mu        sync.Mutex
	ops       []goipp.Op
	jobStates []ipp.JobState      // output-device-job-state values seen
	docStates []ipp.DocumentState // output-device-document-state values seen
	ackDocs   []int               // acknowledged document numbers
}

func newFakeInfra(t *testing.T) *fakeInfra {
	return &fakeInfra{
		t:          t,
		numDocs:    1,
		docPayload: "%PDF-1.7 fake",
	}
}

func (f *fakeInfra) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	msg, _ := decodeIPP(f.t, r.Body)
	op := goipp.Op(msg.Code)

	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()

	resp := goipp.NewResponse(goipp.DefaultVersion, goipp.StatusOk, msg.RequestID)
	var payload []byte
	switch op {
	case goipp.OpFetchJob:
		if f.notFetchable {
			resp.Code = goipp.Code(goipp.StatusErrorNotFetchable)
			break
		}
		resp.Job.Add(goipp.MakeAttribute("job-name",
			goipp.TagName, goipp.String("quarterly-report")))
		resp.Job.Add(goipp.MakeAttribute("number-of-documents",
			goipp.TagInteger, goipp.Integer(f.numDocs)))
		resp.Job.Add(goipp.MakeAttribute("copies",
			goipp.TagInteger, goipp.Integer(1)))

	case goipp.OpUpdateJobStatus:
		if s, ok := ipp.AttrInt(msg.Job, "output-device-job-state"); ok {
			f.mu.Lock()
			f.jobStates = append(f.jobStates, ipp.JobState(s))
			f.mu.Unlock()
		}

	case goipp.OpFetchDocument:
		resp.Operation.Add(goipp.MakeAttribute("document-format",
			goipp.TagMimeType, goipp.String("application/pdf")))
		payload = []byte(f.docPayload)

	case goipp.OpAcknowledgeDocument:
		if n, ok := ipp.AttrInt(msg.Operation, "document-number"); ok {
			f.mu.Lock()
			f.ackDocs = append(f.ackDocs, n)
			f.mu.Unlock()
		}

	case goipp.OpUpdateDocumentStatus:
		if s, ok := ipp.AttrInt(msg.Document, "output-device-document-state"); ok {
			f.mu.Lock()
			f.docStates = append(f.docStates, ipp.DocumentState(s))
			f.mu.Unlock()
		}

	case goipp.OpGetJobs:
		var ids []int
		for id := range f.fetchable {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		resp.Groups = goipp.Groups{{
			Tag: goipp.TagOperationGroup,
			Attrs: goipp.Attributes{
				goipp.MakeAttribute("attributes-charset",
					goipp.TagCharset, goipp.String("utf-8")),
			},
		}}
		for _, id := range ids {
			resp.Groups = append(resp.Groups, goipp.Group{
				Tag: goipp.TagJobGroup,
				Attrs: goipp.Attributes{
					goipp.MakeAttribute("job-id",
						goipp.TagInteger, goipp.Integer(id)),
					goipp.MakeAttribute("job-state",
						goipp.TagEnum, goipp.Integer(int(f.fetchable[id]))),
				},
			})
		}
	}
	writeIPP(f.t, w, resp, payload)
}

func (f *fakeInfra) opSequence() []goipp.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]goipp.Op(nil), f.ops...)
}

// fakeTransport stands in for the local device. Like the real IPP
// transport it reports canceled when the remote job was canceled while
// it held the document.
type fakeTransport struct {
	localID      int
	err          error
	ignoreCancel bool // AppSocket-like: finishes the stream regardless
	onSend       func(docNumber int)

	mu      sync.Mutex
	docs    [][]byte
	cancels []int
}

func (f *fakeTransport) Send(ctx context.Context, doc *device.Document, ticket goipp.Attributes, remoteState func() ipp.JobState) (device.Result, error) {
	data, err := io.ReadAll(doc.Body)
	if err != nil {
		return device.Result{State: ipp.JobStateAborted}, err
	}
	f.mu.Lock()
	f.docs = append(f.docs, data)
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(doc.Number)
	}
	if f.err != nil {
		return device.Result{LocalJobID: f.localID, State: ipp.JobStateAborted}, f.err
	}
	if !f.ignoreCancel && remoteState() == ipp.JobStateCanceled {
		return device.Result{LocalJobID: f.localID, State: ipp.JobStateCanceled}, nil
	}
	return device.Result{LocalJobID: f.localID, State: ipp.JobStateCompleted}, nil
}

func (f *fakeTransport) Cancel(ctx context.Context, localJobID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, localJobID)
	return nil
}

func newTestWorker(t *testing.T, uri string, table *jobTable, dev device.Transport) *worker {
	t.Helper()
	return &worker{
		printerURI: uri,
		opts:       ipp.ClientOptions{Username: "proxyuser"},
		user:       "proxyuser",
		uuid:       device.MakeUUID("socket://printer.local"),
		table:      table,
		dev:        dev,
		log:        testLogger(),
	}
}

func TestWorkerRunJob(t *testing.T) {
	infra := newFakeInfra(t)
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)
	dev := &fakeTransport{localID: 42}

	w := newTestWorker(t, srv.URL, table, dev)
	w.runJob(context.Background(), 101)

	job, _ := table.Get(101)
	if job.LocalState != ipp.JobStateCompleted {
		t.Errorf("local state = %v, want completed", job.LocalState)
	}
	if job.LocalID != 42 {
		t.Errorf("local id = %d, want 42", job.LocalID)
	}
	if len(dev.docs) != 1 || string(dev.docs[0]) != infra.docPayload {
		t.Errorf("device received %q, want %q", dev.docs, infra.docPayload)
	}

	want := []goipp.Op{
		goipp.OpFetchJob,
		goipp.OpAcknowledgeJob,
		goipp.OpUpdateJobStatus,      // processing
		goipp.OpUpdateDocumentStatus, // processing
		goipp.OpFetchDocument,
		goipp.OpAcknowledgeDocument,  // before the completed status
		goipp.OpUpdateDocumentStatus, // completed
		goipp.OpUpdateJobStatus,      // completed
	}
	if diff := cmp.Diff(want, infra.opSequence()); diff != "" {
		t.Errorf("operation sequence (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ipp.JobState{ipp.JobStateProcessing, ipp.JobStateCompleted},
		infra.jobStates); diff != "" {
		t.Errorf("job status reports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ipp.DocumentState{ipp.DocumentStateProcessing, ipp.DocumentStateCompleted},
		infra.docStates); diff != "" {
		t.Errorf("document status reports (-want +got):\n%s", diff)
	}
}

func TestWorkerRunJobMultipleDocuments(t *testing.T) {
	infra := newFakeInfra(t)
	infra.numDocs = 3
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)
	dev := &fakeTransport{localID: 42}

	w := newTestWorker(t, srv.URL, table, dev)
	w.runJob(context.Background(), 101)

	if len(dev.docs) != 3 {
		t.Errorf("device received %d documents, want 3", len(dev.docs))
	}
	if diff := cmp.Diff([]int{1, 2, 3}, infra.ackDocs); diff != "" {
		t.Errorf("acknowledged documents (-want +got):\n%s", diff)
	}
	if job, _ := table.Get(101); job.LocalState != ipp.JobStateCompleted {
		t.Errorf("local state = %v, want completed", job.LocalState)
	}
}

func TestWorkerJobNotFetchable(t *testing.T) {
	infra := newFakeInfra(t)
	infra.notFetchable = true
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)

	w := newTestWorker(t, srv.URL, table, &fakeTransport{})
	w.runJob(context.Background(), 101)

	// The job went to another output device: retire it locally without
	// reporting any state for it.
	if job, _ := table.Get(101); job.LocalState != ipp.JobStateCompleted {
		t.Errorf("local state = %v, want completed", job.LocalState)
	}
	if diff := cmp.Diff([]goipp.Op{goipp.OpFetchJob}, infra.opSequence()); diff != "" {
		t.Errorf("operation sequence (-want +got):\n%s", diff)
	}
}

func TestWorkerDeviceFailure(t *testing.T) {
	infra := newFakeInfra(t)
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)
	dev := &fakeTransport{err: io.ErrClosedPipe}

	w := newTestWorker(t, srv.URL, table, dev)
	w.runJob(context.Background(), 101)

	if job, _ := table.Get(101); job.LocalState != ipp.JobStateAborted {
		t.Errorf("local state = %v, want aborted", job.LocalState)
	}
	// the document receipt still goes out, the completed status does not
	if diff := cmp.Diff([]int{1}, infra.ackDocs); diff != "" {
		t.Errorf("acknowledged documents (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ipp.DocumentState{ipp.DocumentStateProcessing},
		infra.docStates); diff != "" {
		t.Errorf("document status reports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ipp.JobState{ipp.JobStateProcessing, ipp.JobStateAborted},
		infra.jobStates); diff != "" {
		t.Errorf("job status reports (-want +got):\n%s", diff)
	}
}

func TestWorkerRemoteCancelDuringPrint(t *testing.T) {
	infra := newFakeInfra(t)
	infra.numDocs = 2
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)

	// The cancellation arrives while the device holds document 1; the
	// transport notices and reports canceled, like the IPP transport's
	// status poll does.
	dev := &fakeTransport{localID: 42}
	dev.onSend = func(docNumber int) {
		table.SetRemoteState(101, ipp.JobStateCanceled)
	}

	w := newTestWorker(t, srv.URL, table, dev)
	w.runJob(context.Background(), 101)

	if job, _ := table.Get(101); job.LocalState != ipp.JobStateCanceled {
		t.Errorf("local state = %v, want canceled", job.LocalState)
	}
	// document 2 was never fetched
	if len(dev.docs) != 1 {
		t.Errorf("device received %d documents, want 1", len(dev.docs))
	}
	if got := infra.jobStates[len(infra.jobStates)-1]; got != ipp.JobStateCanceled {
		t.Errorf("final job status = %v, want canceled", got)
	}
	// document 1 was received but not completed
	if diff := cmp.Diff([]int{1}, infra.ackDocs); diff != "" {
		t.Errorf("acknowledged documents (-want +got):\n%s", diff)
	}
}

func TestWorkerRemoteCancelAfterStream(t *testing.T) {
	infra := newFakeInfra(t)
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	table.Insert(101, ipp.JobStatePending)

	// A transport without a cancel channel mid-stream finishes the
	// write and reports completed; the cancellation is only honored at
	// the final settle, which cancels the known local job.
	dev := &fakeTransport{localID: 42, ignoreCancel: true}
	dev.onSend = func(docNumber int) {
		table.SetRemoteState(101, ipp.JobStateCanceled)
	}

	w := newTestWorker(t, srv.URL, table, dev)
	w.runJob(context.Background(), 101)

	if job, _ := table.Get(101); job.LocalState != ipp.JobStateCanceled {
		t.Errorf("local state = %v, want canceled", job.LocalState)
	}
	if diff := cmp.Diff([]int{42}, dev.cancels); diff != "" {
		t.Errorf("local cancels (-want +got):\n%s", diff)
	}
	if got := infra.jobStates[len(infra.jobStates)-1]; got != ipp.JobStateCanceled {
		t.Errorf("final job status = %v, want canceled", got)
	}
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	infra := newFakeInfra(t)
	srv := httptest.NewServer(infra)
	defer srv.Close()

	table := newJobTable()
	dev := &fakeTransport{localID: 42}
	w := newTestWorker(t, srv.URL, table, dev)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	table.Insert(201, ipp.JobStatePending)
	table.Insert(202, ipp.JobStatePending)
	table.Wake()

	deadline := time.After(10 * time.Second)
	for {
		a, _ := table.Get(201)
		b, _ := table.Get(202)
		if a.LocalState == ipp.JobStateCompleted && b.LocalState == ipp.JobStateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("jobs never completed: %v / %v", a.LocalState, b.LocalState)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}

	if len(dev.docs) != 2 {
		t.Errorf("device received %d documents, want 2", len(dev.docs))
	}
}

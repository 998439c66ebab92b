package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeBucket is a tiny S3 subset sufficient to exercise the sink without network access.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	fail    bool
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(status int) *http.Response {
		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}, Request: req}
	}
	if f.fail {
		return respond(http.StatusForbidden), nil
	}
	switch req.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; ok {
			return respond(http.StatusOK), nil
		}
		return respond(http.StatusNotFound), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		f.puts++
		resp := respond(http.StatusOK)
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	}
	return respond(http.StatusNotImplemented), nil
}

func newTestSink(t *testing.T, bucket *fakeBucket) *Sink {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	sink, err := New(context.Background(), Config{
		Region:    "eu-west-2",
		Bucket:    "tariff-envelopes",
		Prefix:    "tamato/",
		Endpoint:  "https://mock.s3.local",
		PathStyle: true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sink
}

func TestSinkPutCreateOnly(t *testing.T) {
	ctx := context.Background()
	bucket := &fakeBucket{objects: map[string][]byte{}}
	sink := newTestSink(t, bucket)

	existed, err := sink.Put(ctx, "envelopes/workbasket-w1.json", []byte(`{"id":"workbasket-w1"}`))
	if err != nil || existed {
		t.Fatalf("Put() = %v, %v; want false, nil", existed, err)
	}
	if _, ok := bucket.objects["tamato/envelopes/workbasket-w1.json"]; !ok {
		t.Fatalf("expected prefixed object key, got %v", bucket.objects)
	}
	existed, err = sink.Put(ctx, "envelopes/workbasket-w1.json", []byte(`{}`))
	if err != nil || !existed {
		t.Fatalf("Put() = %v, %v; want true, nil", existed, err)
	}
	if bucket.puts != 1 {
		t.Fatalf("expected a single PUT, got %d", bucket.puts)
	}
}

func TestSinkPutSurfacesBackendErrors(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}, fail: true}
	sink := newTestSink(t, bucket)
	if _, err := sink.Put(context.Background(), "envelopes/x.json", []byte(`{}`)); err == nil {
		t.Fatal("expected error from forbidden bucket")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/evergreen-ci/statsbeam/producer"
	"github.com/pkg/errors"
)

const uploadClientTimeout = 30 * time.Second

var uploadClientPool = &sync.Pool{
	New: func() interface{} { return newUploadClient() },
}

func newUploadClient() *http.Client {
	return &http.Client{
		Timeout: uploadClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{},
			Proxy:               http.ProxyFromEnvironment,
			DisableKeepAlives:   true,
			IdleConnTimeout:     20 * time.Second,
			MaxIdleConnsPerHost: 10,
			MaxIdleConns:        50,
			Dial: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 0,
			}).Dial,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// HTTPSink implements units.ReportSink by POSTing each report's encoded
// wire bytes to a configured collection endpoint (spec.md §6
// "uploading"). The *http.Client values are pooled, but their transport
// disables keep-alives, so each upload opens a fresh connection.
type HTTPSink struct {
	URL string
}

// NewHTTPSink constructs an HTTPSink posting to url.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url}
}

// Sink implements units.ReportSink.
func (s *HTTPSink) Sink(ctx context.Context, rep producer.Report) error {
	body := Encode(rep)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "building upload request for metric %d", rep.MetricID)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	client := uploadClientPool.Get().(*http.Client)
	defer uploadClientPool.Put(client)

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "uploading report for metric %d", rep.MetricID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("report upload for metric %d failed with status %s", rep.MetricID, resp.Status)
	}
	return nil
}

// Package tencent provides an ASR provider backed by Tencent Cloud's
// recording recognition API (CreateRecTask / DescribeTaskStatus).
//
// The API is asynchronous: a task is created for a remotely hosted audio
// file, then polled until the cloud finishes transcribing. Requests are
// signed with the TC3-HMAC-SHA256 scheme. Audio must be reachable by the
// cloud over a URL: local bytes are not accepted, and the engine surfaces
// that as a typed error instead of uploading on the caller's behalf.
package tencent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minutekit/minutekit/pkg/meeting"
	"github.com/minutekit/minutekit/pkg/provider/asr"
)

const (
	defaultHost    = "asr.tencentcloudapi.com"
	service        = "asr"
	apiVersion     = "2019-06-14"
	defaultRegion  = "ap-shanghai"
	defaultPollGap = 5 * time.Second
)

// Ensure Provider implements the asr.Provider interface.
var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using Tencent Cloud recording recognition.
// Safe for concurrent use.
type Provider struct {
	secretID   string
	secretKey  string
	region     string
	host       string
	pollGap    time.Duration
	httpClient *http.Client

	// now is stubbed in tests to pin the signature timestamp.
	now func() time.Time
}

// config holds optional configuration collected from functional options.
type config struct {
	region  string
	host    string
	pollGap time.Duration
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithRegion sets the Tencent Cloud region (default ap-shanghai).
func WithRegion(region string) Option {
	return func(c *config) { c.region = region }
}

// WithHost overrides the API host. Used in tests to point at a local server.
func WithHost(host string) Option {
	return func(c *config) { c.host = host }
}

// WithPollInterval sets the gap between DescribeTaskStatus polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) { c.pollGap = d }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider with the given cloud credentials.
func New(secretID, secretKey string, opts ...Option) (*Provider, error) {
	if secretID == "" || secretKey == "" {
		return nil, fmt.Errorf("tencent asr: secret id and key must not be empty")
	}

	cfg := &config{region: defaultRegion, host: defaultHost, pollGap: defaultPollGap}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{
		secretID:   secretID,
		secretKey:  secretKey,
		region:     cfg.region,
		host:       cfg.host,
		pollGap:    cfg.pollGap,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// AcceptsBytes implements asr.Provider. The recording API fetches audio
// itself and cannot take an upload.
func (p *Provider) AcceptsBytes() bool { return false }

// AcceptsURL implements asr.Provider.
func (p *Provider) AcceptsURL() bool { return true }

// taskData is the shared Data block of both API responses.
type taskData struct {
	TaskID       int64        `json:"TaskId"`
	Status       int          `json:"Status"`
	StatusStr    string       `json:"StatusStr"`
	Result       string       `json:"Result"`
	ErrorMsg     string       `json:"ErrorMsg"`
	ResultDetail []taskDetail `json:"ResultDetail"`
}

type taskDetail struct {
	FinalSentence string `json:"FinalSentence"`
	StartMs       int64  `json:"StartMs"`
	EndMs         int64  `json:"EndMs"`
	SpeakerID     int    `json:"SpeakerId"`
}

// apiEnvelope is the Tencent Cloud response envelope.
type apiEnvelope struct {
	Response struct {
		Data  taskData `json:"Data"`
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
		RequestID string `json:"RequestId"`
	} `json:"Response"`
}

// Recognize implements asr.Provider by creating a recording recognition task
// and polling it to completion. Only URL inputs are accepted.
func (p *Provider) Recognize(ctx context.Context, input asr.Input, opts asr.Options) (*asr.Result, error) {
	if input.URL == "" {
		return nil, meeting.Faultf(meeting.KindUnsupportedFormat,
			"tencent asr: provider accepts URLs only, got a local file")
	}

	taskID, err := p.createTask(ctx, input.URL, opts)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(p.pollGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, meeting.Wrap(meeting.KindCancelled, ctx.Err())
		case <-ticker.C:
		}

		data, err := p.describeTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch data.Status {
		case 2: // success
			return detailToResult(data), nil
		case 3: // failed
			return nil, meeting.Faultf(meeting.KindUpstreamUnavailable,
				"tencent asr: task %d failed: %s", taskID, data.ErrorMsg)
		}
		// 0 = waiting, 1 = in progress: keep polling.
	}
}

// detailToResult converts the cloud's per-sentence detail into segments.
func detailToResult(data *taskData) *asr.Result {
	result := &asr.Result{FullText: strings.TrimSpace(data.Result)}
	for _, d := range data.ResultDetail {
		result.Segments = append(result.Segments, asr.RawSegment{
			Text:       d.FinalSentence,
			StartSec:   float64(d.StartMs) / 1000.0,
			EndSec:     float64(d.EndMs) / 1000.0,
			RawSpeaker: strconv.Itoa(d.SpeakerID),
		})
	}
	return result
}

// createTask issues CreateRecTask for the given URL.
func (p *Provider) createTask(ctx context.Context, audioURL string, opts asr.Options) (int64, error) {
	diarization := 0
	if opts.Diarization {
		diarization = 1
	}
	payload := map[string]any{
		"EngineModelType":    "16k_zh",
		"ChannelNum":         1,
		"ResTextFormat":      2,
		"SourceType":         0,
		"Url":                audioURL,
		"SpeakerDiarization": diarization,
		"SpeakerNumber":      0,
	}
	if opts.Hotwords != "" {
		// The cloud takes weighted hotwords as "word|10" pairs.
		payload["HotwordList"] = renderHotwordList(opts.Hotwords)
	}

	data, err := p.call(ctx, "CreateRecTask", payload)
	if err != nil {
		return 0, err
	}
	if data.TaskID == 0 {
		return 0, meeting.Faultf(meeting.KindUpstreamUnavailable, "tencent asr: no task id in response")
	}
	return data.TaskID, nil
}

// describeTask issues DescribeTaskStatus for the given task.
func (p *Provider) describeTask(ctx context.Context, taskID int64) (*taskData, error) {
	return p.call(ctx, "DescribeTaskStatus", map[string]any{"TaskId": taskID})
}

// renderHotwordList converts the space-separated hotword blob to the cloud's
// "word|weight,word|weight" form, capped at the API's 128-entry limit.
func renderHotwordList(blob string) string {
	words := strings.Fields(blob)
	if len(words) > 128 {
		words = words[:128]
	}
	pairs := make([]string, len(words))
	for i, w := range words {
		pairs[i] = w + "|10"
	}
	return strings.Join(pairs, ",")
}

// call signs and sends one API action, returning the decoded Data block.
func (p *Provider) call(ctx context.Context, action string, payload map[string]any) (*taskData, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tencent asr: marshal payload: %w", err)
	}

	ts := p.now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+p.host, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tencent asr: build request: %w", err)
	}
	if strings.HasPrefix(p.host, "127.0.0.1") || strings.HasPrefix(p.host, "localhost") {
		req.URL.Scheme = "http"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", defaultHost)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", apiVersion)
	req.Header.Set("X-TC-Region", p.region)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("Authorization", p.sign(action, body, ts))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("tencent asr: %s: %w", action, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("tencent asr: read response: %w", err))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, meeting.Wrap(meeting.KindUpstreamUnavailable, fmt.Errorf("tencent asr: decode response: %w", err))
	}
	if e := envelope.Response.Error; e != nil {
		kind := meeting.KindUpstreamUnavailable
		if strings.HasPrefix(e.Code, "AuthFailure") {
			kind = meeting.KindUpstreamAuth
		} else if e.Code == "RequestLimitExceeded" {
			kind = meeting.KindRateLimited
		}
		return nil, meeting.Faultf(kind, "tencent asr: %s: %s: %s", action, e.Code, e.Message)
	}
	return &envelope.Response.Data, nil
}

// sign computes the TC3-HMAC-SHA256 Authorization header value.
func (p *Provider) sign(action string, body []byte, ts time.Time) string {
	// Step 1: canonical request.
	canonicalHeaders := fmt.Sprintf("content-type:application/json\nhost:%s\nx-tc-action:%s\n",
		defaultHost, strings.ToLower(action))
	signedHeaders := "content-type;host;x-tc-action"
	payloadHash := sha256hex(body)
	canonicalRequest := strings.Join([]string{
		http.MethodPost, "/", "", canonicalHeaders, signedHeaders, payloadHash,
	}, "\n")

	// Step 2: string to sign.
	date := ts.Format("2006-01-02")
	scope := date + "/" + service + "/tc3_request"
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		strconv.FormatInt(ts.Unix(), 10),
		scope,
		sha256hex([]byte(canonicalRequest)),
	}, "\n")

	// Step 3: derive the signing key and sign.
	secretDate := hmacSHA256([]byte("TC3"+p.secretKey), date)
	secretService := hmacSHA256(secretDate, service)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		p.secretID, scope, signedHeaders, signature)
}

func sha256hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// Ready implements asr.Provider. The recording API has no liveness endpoint;
// readiness means credentials are present.
func (p *Provider) Ready(ctx context.Context) error {
	if p.secretID == "" || p.secretKey == "" {
		return fmt.Errorf("tencent asr: credentials not configured")
	}
	return nil
}

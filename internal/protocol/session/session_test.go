package session

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/schema"
	"github.com/danmuck/clusterctl/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	cases := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := NextBackoffDelay(cfg, attempt, nil); got != want {
			t.Fatalf("attempt%d got=%v want=%v", attempt, got, want)
		}
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 2, rng)
		if got < 250*time.Millisecond || got >= 750*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if got := NextBackoffDelay(cfg, 1, rng); got != 250*time.Millisecond {
		t.Fatalf("first attempt should not be jittered: %v", got)
	}
}

func TestRetryAllowed(t *testing.T) {
	testlog.Start(t)
	if !RetryAllowed(0, 100) {
		t.Fatalf("unbounded attempts should always retry")
	}
	if !RetryAllowed(3, 2) || RetryAllowed(3, 3) {
		t.Fatalf("unexpected bounded retry decision")
	}
}

func TestEstablishRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := Establish{LocalNodeID: 0x1122, RemoteNodeID: 0x3344, PeerIdentity: "lamp.kitchen"}
	var buf bytes.Buffer
	if err := WriteEstablish(&buf, in); err != nil {
		t.Fatalf("write establish: %v", err)
	}
	got, err := ReadEstablish(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read establish: %v", err)
	}
	if got != in {
		t.Fatalf("unexpected establish: %+v", got)
	}
}

func TestEstablishValidate(t *testing.T) {
	testlog.Start(t)
	cases := []Establish{
		{RemoteNodeID: 2},
		{LocalNodeID: 1},
		{LocalNodeID: 5, RemoteNodeID: 5},
	}
	for _, c := range cases {
		if err := c.Validate(); !errors.Is(err, ErrInvalidEstablish) {
			t.Fatalf("expected ErrInvalidEstablish for %+v, got %v", c, err)
		}
	}
}

func TestEstablishAckRoundTrip(t *testing.T) {
	testlog.Start(t)
	ack := EstablishAck{
		Status:      AckStatusAccepted,
		Message:     "ok",
		SessionID:   77,
		TimestampMS: 1700000000000,
	}
	var buf bytes.Buffer
	if err := WriteEstablishAck(&buf, ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	got, err := ReadEstablishAck(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !got.Accepted() || got.SessionID != 77 {
		t.Fatalf("unexpected ack: %+v", got)
	}
}

func TestEstablishAckRejectedNeedsNoSessionID(t *testing.T) {
	testlog.Start(t)
	ack := EstablishAck{Status: AckStatusRejected, Code: CodePeerBlocked, TimestampMS: 1}
	if err := ack.Validate(); err != nil {
		t.Fatalf("rejected ack should validate: %v", err)
	}
	ack.Status = "maybe"
	if err := ack.Validate(); !errors.Is(err, ErrInvalidEstablishAck) {
		t.Fatalf("expected ErrInvalidEstablishAck, got %v", err)
	}
}

func TestReadEstablishWrongControlType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteEstablishAck(&buf, EstablishAck{Status: AckStatusRejected, TimestampMS: 1}); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	if _, err := ReadEstablish(bufio.NewReader(&buf)); !errors.Is(err, ErrInvalidEstablish) {
		t.Fatalf("expected ErrInvalidEstablish, got %v", err)
	}
}

func TestReadControlMessageTooLarge(t *testing.T) {
	testlog.Start(t)
	line := `{"type":"` + strings.Repeat("x", maxControlLineBytes+1) + "\"}\n"
	_, err := ReadEstablish(bufio.NewReaderSize(strings.NewReader(line), 4096))
	if !errors.Is(err, ErrControlMessageTooLarge) {
		t.Fatalf("expected ErrControlMessageTooLarge, got %v", err)
	}
}

func TestEncodeDecodeInvokeRequestFrame(t *testing.T) {
	testlog.Start(t)
	in := InvokeRequest{
		ExchangeID:      9,
		SourceNode:      0x1122,
		DestinationNode: 0x3344,
		EndpointID:      1,
		ClusterID:       0x0006,
		CommandID:       0x02,
		Payload:         []byte{0xA0},
	}
	raw, err := EncodeInvokeRequestFrame(100, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fr, err := ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if fr.Header.MessageType != schema.MsgInvokeRequest || fr.Header.MessageID != 100 {
		t.Fatalf("unexpected header: %+v", fr.Header)
	}
	got, err := DecodeInvokeRequestFrame(fr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ExchangeID != 9 || got.ClusterID != 0x0006 || got.CommandID != 0x02 || got.EndpointID != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if !bytes.Equal(got.Payload, in.Payload) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
}

func TestEncodeDecodeInvokeResponseFrameErrorFlag(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeInvokeResponseFrame(5, InvokeResponse{
		ExchangeID:      9,
		SourceNode:      0x3344,
		DestinationNode: 0x1122,
		Status:          StatusUnsupportedCluster,
		Message:         "cluster 0x0300 not on endpoint 1",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fr, err := ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if fr.Header.Flags&frame.FlagIsResponse == 0 || fr.Header.Flags&frame.FlagIsError == 0 {
		t.Fatalf("expected response+error flags, got 0x%x", fr.Header.Flags)
	}
	got, err := DecodeInvokeResponseFrame(fr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusUnsupportedCluster || got.Message == "" || got.ExchangeID != 9 {
		t.Fatalf("unexpected response: %+v", got)
	}
	if StatusName(got.Status) != "unsupported_cluster" {
		t.Fatalf("unexpected status name %q", StatusName(got.Status))
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeStatusReportFrame(1, StatusReport{SourceNode: 3, EndpointID: 1, ClusterID: 6, Payload: []byte{0xF5}})
	if err != nil {
		t.Fatalf("encode report: %v", err)
	}
	fr, err := ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if _, err := DecodeInvokeResponseFrame(fr); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
	report, err := DecodeStatusReportFrame(fr)
	if err != nil || report.ClusterID != 6 {
		t.Fatalf("decode report: %+v err=%v", report, err)
	}
}

func TestEncodeInvokeRequestValidates(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeInvokeRequestFrame(1, InvokeRequest{SourceNode: 1, DestinationNode: 2}); !errors.Is(err, ErrInvalidInvoke) {
		t.Fatalf("expected ErrInvalidInvoke, got %v", err)
	}
}

func TestExchangeTableResolvesOnce(t *testing.T) {
	testlog.Start(t)
	table := NewExchangeTable[string]()
	now := time.Unix(1700000000, 0)
	if !table.Insert(PendingExchange[string]{ExchangeID: 2, NodeID: 0xA, SentAt: now, Attached: "b"}) {
		t.Fatalf("insert 2 failed")
	}
	if !table.Insert(PendingExchange[string]{ExchangeID: 1, NodeID: 0xA, SentAt: now, Attached: "a"}) {
		t.Fatalf("insert 1 failed")
	}
	if table.Insert(PendingExchange[string]{ExchangeID: 1, NodeID: 0xB}) {
		t.Fatalf("duplicate insert should fail")
	}
	if table.Insert(PendingExchange[string]{ExchangeID: 0}) {
		t.Fatalf("zero id insert should fail")
	}
	table.Insert(PendingExchange[string]{ExchangeID: 3, NodeID: 0xB, Attached: "c"})

	list := table.List()
	if len(list) != 3 || list[0].ExchangeID != 1 || list[2].ExchangeID != 3 {
		t.Fatalf("unexpected list order: %+v", list)
	}

	item, ok := table.Take(3)
	if !ok || item.Attached != "c" {
		t.Fatalf("take 3: %+v ok=%v", item, ok)
	}
	if _, ok := table.Take(3); ok {
		t.Fatalf("second take should miss")
	}

	node := table.TakeNode(0xA)
	if len(node) != 2 || node[0].Attached != "a" || node[1].Attached != "b" {
		t.Fatalf("unexpected node exchanges: %+v", node)
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d", table.Len())
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
	cfg.TLS.Mutual = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransport(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = "bogus"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile, cfg.TLS.KeyFile = "/tmp/s.pem", "/tmp/s.key"
	cfg.TLS.Mutual = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
}

func TestConfigWithDefaultsNormalizesMode(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: "  Production "}.WithDefaults()
	if cfg.SecurityMode != SecurityModeProduction {
		t.Fatalf("unexpected mode %q", cfg.SecurityMode)
	}
	if cfg.ConnectTimeout != DefaultConfig().ConnectTimeout || cfg.Backoff.Multiplier != 2.0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestPeerIdentityFromCertPreference(t *testing.T) {
	testlog.Start(t)
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: " lamp "}, DNSNames: []string{"lamp.local"}}
	if got := PeerIdentityFromCert(cert); got != "lamp" {
		t.Fatalf("expected CN, got %q", got)
	}
	cert.Subject.CommonName = ""
	if got := PeerIdentityFromCert(cert); got != "lamp.local" {
		t.Fatalf("expected DNS SAN, got %q", got)
	}
	if PeerIdentityFromCert(nil) != "" {
		t.Fatalf("nil cert should have empty identity")
	}
}

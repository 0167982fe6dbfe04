package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/schema"
)

const (
	defaultBannerWidth = 80
	minBannerWidth     = 20
	maxBannerWidth     = 120

	// FailHostsParam lists host IPs whose last task fails.
	FailHostsParam = "fail_hosts"
)

const (
	sgrCyan  = "\x1b[36m"
	sgrGreen = "\x1b[32m"
	sgrRed   = "\x1b[31m"
	sgrReset = "\x1b[0m"
)

type play struct {
	Name  string `yaml:"name"`
	Hosts any    `yaml:"hosts"`
	Tasks []task `yaml:"tasks"`
}

type task struct {
	Name string `yaml:"name"`
}

type simHost struct {
	key  schema.StreamKey
	host jobapi.Host
	fail bool
}

// Simulator plays a submitted playbook against the hub: it announces the
// inventory, emits per-host task lines mirrored into the aggregate key and
// finishes every key with a final status.
type Simulator struct {
	hub       *Hub
	lineDelay time.Duration
	now       func() time.Time
}

// NewSimulator constructs a Simulator.
func NewSimulator(hub *Hub, lineDelay time.Duration) *Simulator {
	if lineDelay < 0 {
		lineDelay = 0
	}
	return &Simulator{hub: hub, lineDelay: lineDelay, now: time.Now}
}

// Start registers the run and plays it in the background on ctx.
func (s *Simulator) Start(ctx context.Context, req jobapi.RunRequest) (RunInfo, error) {
	if err := req.Validate(); err != nil {
		return RunInfo{}, err
	}
	hosts := planHosts(req)
	info := RunInfo{
		Token:      newToken(),
		Keys:       make([]schema.StreamKey, 0, len(hosts)+1),
		Titles:     make(map[schema.StreamKey]string, len(hosts)+1),
		Playbook:   req.Playbook,
		TemplateID: req.TemplateID,
		CreatedAt:  s.now(),
	}
	info.Keys = append(info.Keys, schema.AggregateKey)
	info.Titles[schema.AggregateKey] = schema.AggregateTitle
	for _, h := range hosts {
		info.Keys = append(info.Keys, h.key)
		info.Titles[h.key] = fmt.Sprintf("%s@%s:%d", h.host.Username, h.host.IP, h.host.Port)
		info.HostIDs = append(info.HostIDs, h.host.ID)
	}
	s.hub.Create(info)
	go s.play(ctx, info.Token, req.Playbook, hosts)
	return info, nil
}

func newToken() schema.ExecutionToken {
	return schema.ExecutionToken(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func planHosts(req jobapi.RunRequest) []simHost {
	failing := make(map[string]bool)
	if raw, ok := req.Params[FailHostsParam].([]any); ok {
		for _, v := range raw {
			if ip, ok := v.(string); ok {
				failing[ip] = true
			}
		}
	}
	seen := make(map[string]int)
	for _, h := range req.HostList {
		seen[h.IP]++
	}
	hosts := make([]simHost, 0, len(req.HostList))
	for _, h := range req.HostList {
		key := h.IP
		if seen[h.IP] > 1 {
			key = fmt.Sprintf("%s:%d", h.IP, h.Port)
		}
		hosts = append(hosts, simHost{key: schema.StreamKey(key), host: h, fail: failing[h.IP]})
	}
	return hosts
}

func (s *Simulator) play(ctx context.Context, token schema.ExecutionToken, playbook string, hosts []simHost) {
	log := logx.WithRun(ctx, token)
	start := s.now()
	emit := func(key schema.StreamKey, text string, status *int) bool {
		frame := schema.Frame{Key: key, Status: status}
		if text != "" {
			frame.Data = &text
		}
		if err := s.hub.Publish(token, frame); err != nil {
			log.Warn("simulator publish failed", "key", key, "err", err)
			return false
		}
		return true
	}
	running := schema.WireRunning

	emit(schema.AggregateKey, notice(sgrCyan, "ansible connected, preparing environment"), &running)
	for _, h := range hosts {
		emit(h.key, "", &running)
	}

	plays, err := parsePlaybook(playbook)
	if err != nil {
		s.dispatchFailed(token, hosts, err, emit)
		log.Warn("simulator playbook rejected", "err", err)
		return
	}
	emit(schema.AggregateKey, s.inventoryBanner(token, hosts), nil)

	for pi, p := range plays {
		header := heading(s.width(token), "PLAY ["+p.Name+"]")
		emit(schema.AggregateKey, header, nil)
		for _, h := range hosts {
			emit(h.key, header, nil)
		}
		for i, t := range p.Tasks {
			last := pi == len(plays)-1 && i == len(p.Tasks)-1
			header := heading(s.width(token), "TASK ["+t.Name+"]")
			emit(schema.AggregateKey, header, nil)
			for _, h := range hosts {
				if !s.pause(ctx) {
					s.abort(token, hosts, emit)
					return
				}
				line := fmt.Sprintf("%sok: [%s]%s\r\n", sgrGreen, h.key, sgrReset)
				if h.fail && last {
					line = fmt.Sprintf("%sfatal: [%s]: FAILED! => task %q failed%s\r\n", sgrRed, h.key, t.Name, sgrReset)
				}
				emit(h.key, header+line, nil)
				emit(schema.AggregateKey, line, nil)
			}
		}
	}

	recap := heading(s.width(token), "PLAY RECAP")
	failed := 0
	for _, h := range hosts {
		okCount, failCount := taskCount(plays), 0
		if h.fail {
			okCount--
			failCount = 1
			failed++
		}
		recap += fmt.Sprintf("%-24s : ok=%d failed=%d\r\n", h.key, okCount, failCount)
	}
	emit(schema.AggregateKey, recap, nil)

	elapsed := s.now().Sub(start).Round(time.Millisecond)
	for _, h := range hosts {
		code := schema.WireSuccess
		if h.fail {
			code = schema.WireFailed
		}
		emit(h.key, recap, &code)
	}
	final := schema.WireSuccess
	summary := notice(sgrGreen, fmt.Sprintf("playbook succeeded in %s", elapsed))
	if failed > 0 {
		final = schema.WireFailed
		summary = notice(sgrRed, fmt.Sprintf("playbook failed on %d host(s) in %s", failed, elapsed))
	}
	emit(schema.AggregateKey, summary, &final)
	s.hub.Finish(token, final)
	log.Info("simulator run finished", "hosts", len(hosts), "failed", failed, "elapsed_ms", elapsed.Milliseconds())
}

func (s *Simulator) dispatchFailed(token schema.ExecutionToken, hosts []simHost, err error, emit func(schema.StreamKey, string, *int) bool) {
	failed := schema.WireFailed
	text := notice(sgrRed, "playbook dispatch failed: "+err.Error())
	for _, h := range hosts {
		emit(h.key, text, &failed)
	}
	emit(schema.AggregateKey, text, &failed)
	s.hub.Finish(token, schema.WireDispatchFailed)
}

func (s *Simulator) abort(token schema.ExecutionToken, hosts []simHost, emit func(schema.StreamKey, string, *int) bool) {
	failed := schema.WireFailed
	text := notice(sgrRed, "run aborted: backend shutting down")
	for _, h := range hosts {
		emit(h.key, "", &failed)
	}
	emit(schema.AggregateKey, text, &failed)
	s.hub.Finish(token, schema.WireFailed)
}

func (s *Simulator) pause(ctx context.Context) bool {
	if s.lineDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.lineDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Simulator) width(token schema.ExecutionToken) int {
	geom, ok := s.hub.Geometry(token)
	if !ok {
		return defaultBannerWidth
	}
	return min(max(geom.Cols, minBannerWidth), maxBannerWidth)
}

func (s *Simulator) inventoryBanner(token schema.ExecutionToken, hosts []simHost) string {
	var b strings.Builder
	b.WriteString(heading(s.width(token), "INVENTORY"))
	b.WriteString("[fleet]\r\n")
	for _, h := range hosts {
		fmt.Fprintf(&b, "%s ansible_port=%d ansible_user=%s\r\n", h.host.IP, h.host.Port, h.host.Username)
	}
	return b.String()
}

func parsePlaybook(text string) ([]play, error) {
	var plays []play
	if err := yaml.Unmarshal([]byte(text), &plays); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	if len(plays) == 0 {
		return nil, errors.New("playbook has no plays")
	}
	for i := range plays {
		if plays[i].Name == "" {
			plays[i].Name = fmt.Sprintf("play %d", i+1)
		}
		if len(plays[i].Tasks) == 0 {
			plays[i].Tasks = []task{{Name: "Gathering Facts"}}
		}
		for j := range plays[i].Tasks {
			if plays[i].Tasks[j].Name == "" {
				plays[i].Tasks[j].Name = fmt.Sprintf("task %d", j+1)
			}
		}
	}
	return plays, nil
}

func taskCount(plays []play) int {
	n := 0
	for _, p := range plays {
		n += len(p.Tasks)
	}
	return n
}

func heading(width int, title string) string {
	pad := width - len(title) - 1
	if pad < 3 {
		pad = 3
	}
	return "\r\n" + title + " " + strings.Repeat("*", pad) + "\r\n"
}

func notice(color, text string) string {
	return "\r\n" + color + "### " + text + " ###" + sgrReset + "\r\n"
}

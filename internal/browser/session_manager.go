package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"browsernerd-actions/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when no browser is attached.
var ErrNotConnected = errors.New("browser not connected")

// Session describes the public metadata for a tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta   Session
	page   *rod.Page
	cancel context.CancelFunc
}

// SessionManager owns the Chrome instance and maps session ids to pages.
type SessionManager struct {
	cfg     config.BrowserConfig
	network *NetworkMonitor
	logger  *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
	onClose    []func(sessionID string)
}

// NewSessionManager creates a manager. network may be nil when post-action
// network digests are not needed.
func NewSessionManager(cfg config.BrowserConfig, network *NetworkMonitor, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		network:  network,
		logger:   logger.With(zap.String("component", "browser")),
		sessions: make(map[string]*sessionRecord),
	}
}

// OnClose registers fn to run whenever a session is closed or dropped.
func (m *SessionManager) OnClose(fn func(sessionID string)) {
	m.mu.Lock()
	m.onClose = append(m.onClose, fn)
	m.mu.Unlock()
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.RLock()
	existing := m.browser
	m.mu.RUnlock()
	if existing != nil {
		if _, err := existing.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = existing.Close()
		m.dropAll()
	}

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = b
	m.controlURL = controlURL
	m.mu.Unlock()
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (m *SessionManager) launch() (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	for _, rawFlag := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Let Rod pick the port and defaults when the custom flags are rejected.
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.dropAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.logger.Info("browser shutdown complete")
	return err
}

// List returns metadata for all known sessions, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, record := range m.sessions {
		results = append(results, record.meta)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results
}

// CreateSession opens a new page in an incognito context and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("failed to set viewport", zap.Error(err))
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     "active",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	m.track(meta, page)

	if url != "" {
		if err := page.Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
			m.logger.Warn("initial navigation failed", zap.String("session_id", meta.ID), zap.Error(err))
		}
	}
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}

	page, err := b.Timeout(m.cfg.AttachTimeout()).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     "attached",
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}
	m.track(meta, page)
	return &meta, nil
}

// track registers the page and starts its network stream. The page keeps
// its own context so the stream outlives the request that created it.
func (m *SessionManager) track(meta Session, page *rod.Page) {
	streamCtx, cancel := context.WithCancel(context.Background())
	page = page.Context(context.Background())

	m.mu.Lock()
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page, cancel: cancel}
	m.mu.Unlock()

	if m.network != nil {
		if err := m.network.Watch(streamCtx, meta.ID, page); err != nil {
			m.logger.Warn("network digests unavailable for session", zap.String("session_id", meta.ID), zap.Error(err))
		}
	}
	if err := m.persistSessions(); err != nil {
		m.logger.Warn("persist sessions failed", zap.Error(err))
	}
	m.logger.Info("session tracked", zap.String("session_id", meta.ID), zap.String("status", meta.Status))
}

// CloseSession closes the session's page and forgets it.
func (m *SessionManager) CloseSession(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	hooks := append([]func(string){}, m.onClose...)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	var err error
	if rec.cancel != nil {
		rec.cancel()
	}
	if rec.page != nil {
		err = rec.page.Close()
	}
	for _, fn := range hooks {
		fn(sessionID)
	}
	if perr := m.persistSessions(); perr != nil {
		m.logger.Warn("persist sessions failed", zap.Error(perr))
	}
	return err
}

func (m *SessionManager) dropAll() {
	m.mu.Lock()
	dropped := make([]*sessionRecord, 0, len(m.sessions))
	ids := make([]string, 0, len(m.sessions))
	for id, rec := range m.sessions {
		dropped = append(dropped, rec)
		ids = append(ids, id)
	}
	m.sessions = make(map[string]*sessionRecord)
	hooks := append([]func(string){}, m.onClose...)
	m.mu.Unlock()

	for _, rec := range dropped {
		if rec.cancel != nil {
			rec.cancel()
		}
		if rec.page != nil {
			_ = rec.page.Close()
		}
	}
	for _, id := range ids {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

// Page returns the underlying Rod page for a session when present.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// Touch refreshes LastActive and, when given, the URL and title.
func (m *SessionManager) Touch(sessionID, url, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta.LastActive = time.Now()
	if url != "" {
		rec.meta.URL = url
	}
	if title != "" {
		rec.meta.Title = title
	}
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	sessions := m.List()
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions loads persisted metadata. Loaded sessions are detached until
// a caller attaches to their target again.
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if _, live := m.sessions[s.ID]; live {
			continue
		}
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}

// Package scene tracks the inbound streams of a room and turns them into
// view sources arranged on a grid. The actual compositor (OBS or
// otherwise) is reached through the Sink interface, keeping this package
// headless.
package scene

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/silviot/vdon_publisher_go/pkg/layout"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// Settings configures automatic source management for a room.
type Settings struct {
	Enabled bool
	// BaseURL for generated view links, default https://vdo.ninja.
	BaseURL  string
	Password string
	RoomID   string
	Salt     string
	// SourcePrefix names generated sources <prefix>_Cam_<token>.
	SourcePrefix string
	// Canvas size used for grid placement.
	Width  int
	Height int
	// RemoveOnDisconnect removes a source when its stream leaves the
	// room; otherwise the source is only hidden.
	RemoveOnDisconnect bool
}

// Placement positions one named source on the canvas.
type Placement struct {
	Name string
	Cell layout.Cell
}

// Sink applies source changes to the compositor. Calls arrive from
// signaling goroutines and must not block for long.
type Sink interface {
	EnsureSource(name, url string, width, height int)
	RemoveSource(name string)
	HideSource(name string)
	ApplyLayout(placements []Placement)
}

// Manager maintains the managed-stream set for one room.
type Manager struct {
	logger *slog.Logger
	sink   Sink

	mu       sync.Mutex
	settings Settings
	running  bool
	own      map[string]struct{}
	managed  map[string]struct{}
}

// NewManager creates a scene manager delivering changes to sink.
func NewManager(sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger,
		sink:    sink,
		own:     make(map[string]struct{}),
		managed: make(map[string]struct{}),
	}
}

// Configure replaces the settings. Takes effect for subsequent events.
func (m *Manager) Configure(settings Settings) {
	if settings.BaseURL == "" {
		settings.BaseURL = vdoutil.DefaultBaseURL
	}
	if settings.SourcePrefix == "" {
		settings.SourcePrefix = "VDO"
	}
	if settings.Width <= 0 {
		settings.Width = 1920
	}
	if settings.Height <= 0 {
		settings.Height = 1080
	}
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
}

// SetOwnStreamIDs records every identifier variant our own stream may
// appear under in room listings, so we never create a source for
// ourselves.
func (m *Manager) SetOwnStreamIDs(streamIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.own = make(map[string]struct{})
	for _, id := range streamIDs {
		if id != "" {
			m.own[id] = struct{}{}
		}
	}
}

// Start begins managing sources. A no-op when disabled in settings.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.settings.Enabled {
		return
	}
	m.running = true
	m.managed = make(map[string]struct{})
}

// Stop ends management. With RemoveOnDisconnect set, previously managed
// sources are removed from the compositor.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	remove := m.settings.RemoveOnDisconnect
	snapshot := m.sortedManagedLocked()
	m.managed = make(map[string]struct{})
	m.mu.Unlock()

	if !remove {
		return
	}
	for _, streamID := range snapshot {
		m.sink.RemoveSource(m.sourceName(streamID))
	}
}

// OnRoomListing seeds the managed set from a room listing.
func (m *Manager) OnRoomListing(streamIDs []string) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}
	for _, streamID := range streamIDs {
		m.OnStreamAdded(streamID)
	}
}

// OnStreamAdded creates or updates the source for a newly listed stream.
func (m *Manager) OnStreamAdded(streamID string) {
	m.mu.Lock()
	if !m.running || streamID == "" {
		m.mu.Unlock()
		return
	}
	if _, ours := m.own[streamID]; ours {
		m.mu.Unlock()
		m.logger.Debug("ignoring our own stream in room", "streamID", streamID)
		return
	}
	m.managed[streamID] = struct{}{}
	settings := m.settings
	m.mu.Unlock()

	name := m.sourceName(streamID)
	url := vdoutil.BuildViewURL(settings.BaseURL, streamID, settings.Password, settings.RoomID, settings.Salt)
	m.sink.EnsureSource(name, url, settings.Width, settings.Height)
	m.logger.Info("stream source ensured", "streamID", streamID, "source", name)

	m.applyLayout()
}

// OnStreamRemoved removes or hides the source for a departed stream.
func (m *Manager) OnStreamRemoved(streamID string) {
	m.mu.Lock()
	if streamID == "" {
		m.mu.Unlock()
		return
	}
	delete(m.managed, streamID)
	remove := m.settings.RemoveOnDisconnect
	m.mu.Unlock()

	name := m.sourceName(streamID)
	if remove {
		m.sink.RemoveSource(name)
	} else {
		m.sink.HideSource(name)
	}
	m.logger.Info("stream source retired", "streamID", streamID, "removed", remove)

	m.applyLayout()
}

// ManagedStreams returns the managed stream ids in sorted order.
func (m *Manager) ManagedStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedManagedLocked()
}

func (m *Manager) sortedManagedLocked() []string {
	ids := make([]string, 0, len(m.managed))
	for id := range m.managed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Layout returns the current grid placement for every managed source.
func (m *Manager) Layout() []Placement {
	m.mu.Lock()
	ids := m.sortedManagedLocked()
	w, h := m.settings.Width, m.settings.Height
	m.mu.Unlock()

	cells := layout.Grid(len(ids), float64(w), float64(h))
	placements := make([]Placement, 0, len(ids))
	for i, id := range ids {
		placements = append(placements, Placement{Name: m.sourceName(id), Cell: cells[i]})
	}
	return placements
}

func (m *Manager) applyLayout() {
	m.sink.ApplyLayout(m.Layout())
}

// sourceName produces the deterministic compositor name for a stream.
func (m *Manager) sourceName(streamID string) string {
	m.mu.Lock()
	prefix := m.settings.SourcePrefix
	m.mu.Unlock()
	if prefix == "" {
		prefix = "VDO"
	}
	return prefix + "_Cam_" + sanitizeNameToken(streamID)
}

// sanitizeNameToken keeps letters, digits, underscore and hyphen,
// replacing everything else with an underscore.
func sanitizeNameToken(input string) string {
	out := make([]byte, len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// profile.go - Zeitmessungs-Ledger fuer einen Netzlauf
//
// MODUL: profile
// ZWECK: Sammelt Start-/Endzeiten eines Netzlaufs und seiner Operatoren und
//        serialisiert sie als kompaktes JSON
// INPUT: Eintraege von Observer-Hooks (ggf. aus mehreren Goroutinen)
// OUTPUT: Snapshot-Struktur bzw. JSON-String
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: workspace (Hooks), x/sys/unix (Thread-IDs)
// HINWEISE: Keine Operation gibt Fehler zurueck oder paniert. Eintraege bleiben
//           in der Reihenfolge, in der sie hinzugefuegt wurden.
package profile

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// =============================================================================
// Entry
// =============================================================================

// Entry ist eine gemessene Einheit: ein ganzer Netzlauf oder ein Operator.
// Index und Shapes sind nur bei Operator-Eintraegen gesetzt.
type Entry struct {
	Name     string
	Metadata string
	Start    time.Time
	End      time.Time
	ThreadID int64

	// Index ist die 1-basierte Position des Operators im Netz
	Index  int
	Shapes [][]int
}

// NewEntry erstellt einen Eintrag und setzt die Startzeit
func NewEntry(name, metadata string) *Entry {
	return &Entry{Name: name, Metadata: metadata, Start: time.Now()}
}

// Stop setzt Endzeit und Thread-ID der aufrufenden Goroutine
func (e *Entry) Stop() {
	e.End = time.Now()
	e.ThreadID = threadID()
}

// Duration nutzt die monotone Uhr, falls beide Zeitpunkte sie tragen
func (e *Entry) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.Sub(e.Start)
}

func (e *Entry) element() Element {
	return Element{
		Name:     e.Name,
		Metadata: e.Metadata,
		StartNS:  unixNano(e.Start),
		EndNS:    unixNano(e.End),
		ThreadID: e.ThreadID,
		Index:    e.Index,
		Shapes:   e.Shapes,
	}
}

// =============================================================================
// Profile
// =============================================================================

// Profile ist das Ledger eines Netzlaufs
type Profile struct {
	mu       sync.Mutex
	name     string
	metadata string
	start    time.Time
	end      time.Time
	entries  []*Entry
}

// New erstellt ein Ledger und setzt die Startzeit
func New(name, metadata string) *Profile {
	return &Profile{name: name, metadata: metadata, start: time.Now()}
}

func (p *Profile) Name() string { return p.name }

func (p *Profile) Metadata() string { return p.metadata }

func (p *Profile) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = time.Now()
}

func (p *Profile) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.end = time.Now()
}

// Duration gibt die Laufzeit zwischen Start und End zurueck (0 solange offen)
func (p *Profile) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.end.IsZero() {
		return 0
	}
	return p.end.Sub(p.start)
}

// Add haengt e an; darf aus mehreren Goroutinen gleichzeitig aufgerufen werden
func (p *Profile) Add(e *Entry) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}

// Reset verwirft alle Eintraege
func (p *Profile) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
}

func (p *Profile) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Entries gibt eine Kopie der Eintragsliste zurueck
func (p *Profile) Entries() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.entries)
}

// =============================================================================
// Snapshot / JSON
// =============================================================================

// Element ist die JSON-Form eines Entry
type Element struct {
	Name     string  `json:"name"`
	Metadata string  `json:"metadata"`
	StartNS  int64   `json:"start_ns"`
	EndNS    int64   `json:"end_ns"`
	ThreadID int64   `json:"thread_id"`
	Index    int     `json:"layer_sequence_index,omitempty"`
	Shapes   [][]int `json:"shapes,omitempty"`
}

// Snapshot ist die JSON-Form eines Profile
type Snapshot struct {
	Name     string    `json:"name"`
	Metadata string    `json:"metadata"`
	StartNS  int64     `json:"start_ns"`
	EndNS    int64     `json:"end_ns"`
	Elements []Element `json:"elements"`
}

// Empty ist das neutrale Dokument fuer "kein Ledger vorhanden"
func Empty() Snapshot {
	return Snapshot{Elements: []Element{}}
}

func (p *Profile) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Name:     p.name,
		Metadata: p.metadata,
		StartNS:  unixNano(p.start),
		EndNS:    unixNano(p.end),
		Elements: make([]Element, 0, len(p.entries)),
	}
	for _, e := range p.entries {
		s.Elements = append(s.Elements, e.element())
	}
	return s
}

// String rendert den Snapshot als kompaktes JSON
func (s Snapshot) String() string {
	if s.Elements == nil {
		s.Elements = []Element{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		slog.Error("profile snapshot could not be encoded", "error", err)
		return emptyJSON
	}
	return string(b)
}

// Read gibt das Ledger als kompaktes JSON zurueck. Ein nil-Profile liefert
// das neutrale Dokument.
func (p *Profile) Read() string {
	if p == nil {
		return emptyJSON
	}
	return p.Snapshot().String()
}

const emptyJSON = `{"name":"","metadata":"","start_ns":0,"end_ns":0,"elements":[]}`

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package target

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NyaDerator/DiscordBridgeMC/internal/diagnostic"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// offlinePrefix marks actor IDs of players whose UUID was never logged.
const offlinePrefix = "name:"

// Server log lines the directory understands. Player events must follow the
// logger prefix ("...]: ") so chat messages cannot forge them.
var (
	uuidLine   = regexp.MustCompile(`(?:^|\]: )UUID of player ([A-Za-z0-9_]{1,16}) is ([0-9A-Fa-f-]{32,36})`)
	joinedLine = regexp.MustCompile(`(?:^|\]: )([A-Za-z0-9_]{1,16}) joined the game`)
	leftLine   = regexp.MustCompile(`(?:^|\]: )([A-Za-z0-9_]{1,16}) left the game`)
	listLine   = regexp.MustCompile(`(?:^|\]: )There are \d+ of a max(?: of)? \d+ players online:(.*)$`)
)

// Directory tracks online players from the server's log output.
// It is safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	online map[string]string // lowercase name -> display name
	uuids  map[string]string // lowercase name -> UUID

	gauge prometheus.Gauge
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithPlayersGauge exports the online player count as
// bridgemc_players_online on reg.
func WithPlayersGauge(reg prometheus.Registerer) DirectoryOption {
	return func(d *Directory) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgemc_players_online",
			Help: "Number of players the bridge believes are online",
		})
		reg.MustRegister(g)
		d.gauge = g
	}
}

// NewDirectory creates an empty directory.
func NewDirectory(opts ...DirectoryOption) *Directory {
	d := &Directory{
		online: make(map[string]string),
		uuids:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach feeds the directory from stream.
func (d *Directory) Attach(stream *diagnostic.Stream) diagnostic.Token {
	return stream.Subscribe(func(l diagnostic.Line) { d.Observe(l.Text) })
}

// Observe updates the directory from one server log line.
func (d *Directory) Observe(line string) {
	if m := uuidLine.FindStringSubmatch(line); m != nil {
		id, err := uuid.Parse(m[2])
		if err != nil {
			return
		}
		d.mu.Lock()
		d.uuids[strings.ToLower(m[1])] = id.String()
		d.mu.Unlock()
		return
	}
	if m := joinedLine.FindStringSubmatch(line); m != nil {
		d.mu.Lock()
		d.online[strings.ToLower(m[1])] = m[1]
		d.mu.Unlock()
		d.updateGauge()
		return
	}
	if m := leftLine.FindStringSubmatch(line); m != nil {
		d.mu.Lock()
		delete(d.online, strings.ToLower(m[1]))
		d.mu.Unlock()
		d.updateGauge()
		return
	}
	if m := listLine.FindStringSubmatch(line); m != nil {
		d.replace(parseNames(m[1]))
	}
}

// replace sets the online set to names, keeping known UUIDs.
func (d *Directory) replace(names []string) {
	d.mu.Lock()
	d.online = make(map[string]string, len(names))
	for _, n := range names {
		d.online[strings.ToLower(n)] = n
	}
	d.mu.Unlock()
	d.updateGauge()
}

func parseNames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if n := strings.TrimSpace(part); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Lookup resolves an online player by name, case-insensitively. Players
// whose UUID was not logged get a name-derived ID.
func (d *Directory) Lookup(name string) (gateway.Actor, bool) {
	key := strings.ToLower(strings.TrimSpace(name))

	d.mu.RLock()
	defer d.mu.RUnlock()

	display, ok := d.online[key]
	if !ok {
		return gateway.Actor{}, false
	}
	return gateway.Actor{Name: display, ID: d.idLocked(key)}, true
}

func (d *Directory) idLocked(key string) string {
	if id, ok := d.uuids[key]; ok {
		return id
	}
	return offlinePrefix + key
}

// Online returns the online players sorted by name.
func (d *Directory) Online() []gateway.Actor {
	d.mu.RLock()
	out := make([]gateway.Actor, 0, len(d.online))
	for key, display := range d.online {
		out = append(out, gateway.Actor{Name: display, ID: d.idLocked(key)})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Count returns the number of online players.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.online)
}

// Reset forgets every online player, e.g. after a server restart.
func (d *Directory) Reset() {
	d.replace(nil)
}

func (d *Directory) updateGauge() {
	if d.gauge == nil {
		return
	}
	d.gauge.Set(float64(d.Count()))
}

// Selector returns the command target for an actor ID: the UUID, or the
// player name for name-derived IDs.
func Selector(actorID string) string {
	return strings.TrimPrefix(actorID, offlinePrefix)
}

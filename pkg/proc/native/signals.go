package native

import (
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"
)

// SignalEntry is one signal of the host.
type SignalEntry struct {
	Value int
	Name  string
}

type signalCatalog struct {
	list   []SignalEntry
	byName map[string]int
	byVal  map[int]string
	names  *trie.Trie
}

var (
	catalogOnce sync.Once
	catalog     *signalCatalog
)

func signals() *signalCatalog {
	catalogOnce.Do(func() {
		c := &signalCatalog{byName: map[string]int{}, byVal: map[int]string{}, names: trie.New()}
		for _, e := range hostSignals() {
			if _, dup := c.byVal[e.Value]; dup {
				continue
			}
			c.list = append(c.list, e)
			c.byVal[e.Value] = e.Name
			c.byName[e.Name] = e.Value
			c.names.Add(e.Name, e.Value)
		}
		sort.Slice(c.list, func(i, j int) bool { return c.list[i].Value < c.list[j].Value })
		catalog = c
	})
	return catalog
}

// Signals returns the signals of the host ordered by value.
func Signals() []SignalEntry {
	return append([]SignalEntry(nil), signals().list...)
}

// SignalName returns the name of signal v, "" if unknown.
func SignalName(v int) string {
	return signals().byVal[v]
}

// SignalValue returns the value of the named signal, -1 if unknown. The
// SIG prefix is optional and case is ignored.
func SignalValue(name string) int {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if v, ok := signals().byName[name]; ok {
		return v
	}
	return -1
}

// CompleteSignal returns the signal names starting with prefix, sorted.
func CompleteSignal(prefix string) []string {
	prefix = strings.ToUpper(prefix)
	if !strings.HasPrefix("SIG", prefix) && !strings.HasPrefix(prefix, "SIG") {
		prefix = "SIG" + prefix
	}
	r := signals().names.PrefixSearch(prefix)
	sort.Strings(r)
	return r
}

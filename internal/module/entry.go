package module

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/yakovlev-alexey/hot-keeper/app"
)

// EntryKind tells the listener manager how to serve a loaded application.
type EntryKind int

const (
	// HandlerOnly applications are served on a supervisor-owned listener.
	HandlerOnly EntryKind = iota + 1
	// SelfListening applications bind their own socket.
	SelfListening
)

func (k EntryKind) String() string {
	switch k {
	case HandlerOnly:
		return "handler"
	case SelfListening:
		return "self-listening"
	default:
		return "unknown"
	}
}

// Entry is the adapted export of one application load.
type Entry struct {
	Kind     EntryKind
	Handler  http.Handler
	Listener app.Listener
	// Closer is the export's release hook when it implements app.Closer.
	Closer app.Closer
	// Source is the entry path the application was loaded from.
	Source string
}

// HandlerEntry wraps a handler as a HandlerOnly entry.
func HandlerEntry(h http.Handler) Entry {
	return Entry{Kind: HandlerOnly, Handler: h}
}

// ListenerEntry wraps a listener as a SelfListening entry.
func ListenerEntry(l app.Listener) Entry {
	return Entry{Kind: SelfListening, Listener: l}
}

// Adapt classifies an exported symbol. A Listener takes precedence over a
// Handler when a value implements both. Pointers, which is how plugin
// variables are looked up, are followed one level.
func Adapt(symbol any) (Entry, error) {
	if e, ok := adaptValue(symbol); ok {
		return e, nil
	}

	v := reflect.ValueOf(symbol)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		if e, ok := adaptValue(v.Elem().Interface()); ok {
			return e, nil
		}
	}

	return Entry{}, fmt.Errorf("exported %s of type %T is neither an http.Handler nor an app.Listener", app.Symbol, symbol)
}

func adaptValue(v any) (Entry, bool) {
	if v == nil {
		return Entry{}, false
	}
	var e Entry
	switch x := v.(type) {
	case app.Listener:
		if isNilValue(x) {
			return Entry{}, false
		}
		e = ListenerEntry(x)
	case http.Handler:
		if isNilValue(x) {
			return Entry{}, false
		}
		e = HandlerEntry(x)
	default:
		return Entry{}, false
	}
	if c, ok := v.(app.Closer); ok {
		e.Closer = c
	}
	return e, true
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

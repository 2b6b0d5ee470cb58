package codec

import (
	"fmt"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{"raw": Raw{}}
)

// Register makes a codec available by name.
func Register(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[f.Name()] = f
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return f, nil
}

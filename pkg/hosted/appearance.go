package hosted

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	gocache "github.com/patrickmn/go-cache"
)

// Font is a custom font the hosted surface may load.
type Font struct {
	Family string `yaml:"family" json:"family"`
	Src    string `yaml:"src" json:"src"`
	Weight string `yaml:"weight,omitempty" json:"weight,omitempty"`
	Style  string `yaml:"style,omitempty" json:"style,omitempty"`
}

// Appearance customises the hosted surface.
type Appearance struct {
	Variables map[string]string `yaml:"variables" json:"variables"`
	Fonts     []Font            `yaml:"fonts" json:"fonts"`
}

// AppearanceLoader produces the current appearance.
type AppearanceLoader func(ctx context.Context) (Appearance, error)

// StaticAppearance always returns a.
func StaticAppearance(a Appearance) AppearanceLoader {
	return func(context.Context) (Appearance, error) {
		return a, nil
	}
}

// FileAppearance reads a YAML appearance file on every load.
func FileAppearance(path string) AppearanceLoader {
	return func(context.Context) (Appearance, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Appearance{}, fmt.Errorf("reading appearance file: %w", err)
		}
		return ParseAppearance(data)
	}
}

func ParseAppearance(data []byte) (Appearance, error) {
	var a Appearance
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &a); err != nil {
			return Appearance{}, fmt.Errorf("parsing appearance: %w", err)
		}
	}
	if a.Variables == nil {
		a.Variables = map[string]string{}
	}
	if a.Fonts == nil {
		a.Fonts = []Font{}
	}
	for i, f := range a.Fonts {
		if f.Family == "" || f.Src == "" {
			return Appearance{}, fmt.Errorf("font %d needs a family and a src", i)
		}
	}
	return a, nil
}

const appearanceKey = "appearance"

// appearanceCache shares one loaded appearance between concurrent bridge
// handler invocations for ttl.
type appearanceCache struct {
	load  AppearanceLoader
	cache *gocache.Cache
	mu    sync.Mutex
}

func newAppearanceCache(load AppearanceLoader, ttl time.Duration) *appearanceCache {
	return &appearanceCache{
		load:  load,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *appearanceCache) get(ctx context.Context) (Appearance, error) {
	if v, ok := c.cache.Get(appearanceKey); ok {
		//nolint:forcetypeassert
		return v.(Appearance), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another invocation may have loaded it while we waited
	if v, ok := c.cache.Get(appearanceKey); ok {
		//nolint:forcetypeassert
		return v.(Appearance), nil
	}

	a, err := c.load(ctx)
	if err != nil {
		return Appearance{}, err
	}
	c.cache.Set(appearanceKey, a, gocache.DefaultExpiration)

	return a, nil
}

func (c *appearanceCache) invalidate() {
	c.cache.Delete(appearanceKey)
}

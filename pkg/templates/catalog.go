package templates

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"jordanella.com/evertale-go/internal/cv"
)

// DefaultThreshold applies to definitions that leave threshold unset
const DefaultThreshold = 0.8

// Catalog is the ordered set of templates the classifier recognizes.
// Definitions are collected first, then Preload decodes every image once;
// after that the catalog is read-only.
type Catalog struct {
	mu       sync.RWMutex
	entries  []*Entry
	byName   map[string]*Entry
	basePath string
	logger   *zap.Logger
	loaded   bool
}

// Entry is a template with its decoded image and prepared pattern
type Entry struct {
	cv.Template
	Image   *image.RGBA
	Pattern *cv.Pattern

	order int
}

// TemplateDefinition represents a template in the YAML file
type TemplateDefinition struct {
	Name      string     `yaml:"name"`
	State     string     `yaml:"state"`
	Path      string     `yaml:"path"`
	Threshold float64    `yaml:"threshold"`
	Region    *RegionDef `yaml:"region,omitempty"`
	Scale     float64    `yaml:"scale,omitempty"`
	Method    string     `yaml:"method,omitempty"`
	Priority  int        `yaml:"priority,omitempty"`
}

// RegionDef represents a region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// TemplateFile represents the structure of a template YAML file
type TemplateFile struct {
	Templates []TemplateDefinition `yaml:"templates"`
}

// NewCatalog creates an empty catalog.
// basePath is the root directory where template image files are stored
func NewCatalog(basePath string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		byName:   make(map[string]*Entry),
		basePath: basePath,
		logger:   logger,
	}
}

// Load reads every definition file in dir and preloads the images.
// Image paths are resolved relative to dir.
func Load(ctx context.Context, dir string, logger *zap.Logger) (*Catalog, error) {
	c := NewCatalog(dir, logger)
	if err := c.LoadFromDirectory(dir); err != nil {
		return nil, err
	}
	if err := c.Preload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile loads template definitions from a YAML file
func (c *Catalog) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var templateFile TemplateFile
	if err := yaml.Unmarshal(data, &templateFile); err != nil {
		return fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	for i, def := range templateFile.Templates {
		template, err := def.toTemplate(c.basePath)
		if err != nil {
			return fmt.Errorf("template %d: %w", i+1, err)
		}
		if err := c.Add(template, nil); err != nil {
			return err
		}
	}

	return nil
}

// LoadFromDirectory loads all YAML files from a directory in name order
func (c *Catalog) LoadFromDirectory(dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read template directory %s: %w", dirPath, err)
	}

	files := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		if err := c.LoadFromFile(filepath.Join(dirPath, entry.Name())); err != nil {
			return fmt.Errorf("file %s: %w", entry.Name(), err)
		}
		files++
	}

	if files == 0 {
		return fmt.Errorf("no template definitions found in %s", dirPath)
	}
	return nil
}

// Add appends a template. img may be nil, in which case Preload reads it
// from the template path.
func (c *Catalog) Add(template cv.Template, img *image.RGBA) error {
	if template.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return fmt.Errorf("catalog is read-only after preload")
	}
	if _, exists := c.byName[template.Name]; exists {
		return fmt.Errorf("duplicate template name %q", template.Name)
	}
	if template.State == "" {
		template.State = template.Name
	}
	if template.Threshold == 0 {
		template.Threshold = DefaultThreshold
	}

	entry := &Entry{Template: template, Image: img, order: len(c.entries)}
	c.entries = append(c.entries, entry)
	c.byName[template.Name] = entry
	return nil
}

// Preload decodes every template image concurrently and prepares its
// matching pattern. It fails on the first unreadable or featureless template.
func (c *Catalog) Preload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return nil
	}
	if len(c.entries) == 0 {
		return fmt.Errorf("catalog is empty")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, entry := range c.entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return prepare(entry)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.SliceStable(c.entries, func(i, j int) bool {
		if c.entries[i].Priority != c.entries[j].Priority {
			return c.entries[i].Priority < c.entries[j].Priority
		}
		return c.entries[i].order < c.entries[j].order
	})
	c.loaded = true

	c.logger.Info("template catalog loaded",
		zap.Int("templates", len(c.entries)),
		zap.Strings("states", c.statesLocked()))
	return nil
}

func prepare(entry *Entry) error {
	if entry.Image == nil {
		img, err := LoadImage(entry.Path, entry.Scale)
		if err != nil {
			return fmt.Errorf("template %s: %w", entry.Name, err)
		}
		entry.Image = img
	}

	if entry.Method == cv.MatchMethodCCOEFF {
		pattern, err := cv.NewPattern(entry.Image)
		if err != nil {
			return fmt.Errorf("template %s: %w", entry.Name, err)
		}
		entry.Pattern = pattern
	}
	return nil
}

// Entries returns templates in classification order: ascending priority,
// then definition order.
func (c *Catalog) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get retrieves a template by name
func (c *Catalog) Get(name string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byName[name]
	return entry, ok
}

// Count returns the number of templates in the catalog
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Loaded reports whether Preload has completed
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.loaded
}

// States returns the distinct state names in classification order
func (c *Catalog) States() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.statesLocked()
}

func (c *Catalog) statesLocked() []string {
	seen := make(map[string]bool)
	var states []string
	for _, entry := range c.entries {
		if !seen[entry.State] {
			seen[entry.State] = true
			states = append(states, entry.State)
		}
	}
	return states
}

func (def TemplateDefinition) toTemplate(basePath string) (cv.Template, error) {
	if def.Name == "" {
		return cv.Template{}, fmt.Errorf("name cannot be empty")
	}
	if def.Path == "" {
		return cv.Template{}, fmt.Errorf("%s: path cannot be empty", def.Name)
	}
	if def.Threshold < 0 || def.Threshold > 1 {
		return cv.Template{}, fmt.Errorf("%s: threshold %.2f outside [0,1]", def.Name, def.Threshold)
	}
	if def.Scale < 0 {
		return cv.Template{}, fmt.Errorf("%s: scale cannot be negative", def.Name)
	}

	method, err := cv.ParseMatchMethod(def.Method)
	if err != nil {
		return cv.Template{}, fmt.Errorf("%s: %w", def.Name, err)
	}

	path := def.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(basePath, path)
	}

	template := cv.Template{
		Name:      def.Name,
		State:     strings.TrimSpace(def.State),
		Path:      path,
		Threshold: def.Threshold,
		Scale:     def.Scale,
		Priority:  def.Priority,
		Method:    method,
	}

	if def.Region != nil {
		region := cv.NewRegion(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
		if err := region.Validate(); err != nil {
			return cv.Template{}, fmt.Errorf("%s: %w", def.Name, err)
		}
		template.Region = &region
	}

	return template, nil
}

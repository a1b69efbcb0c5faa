package actions

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskFile is the on-disk form of a task definition
type TaskFile struct {
	TaskName    string         `yaml:"task_name"`
	Description string         `yaml:"description,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Timeout     int            `yaml:"timeout,omitempty"` // seconds
	Steps       []StepDef      `yaml:"steps"`
	Ignorable   []IgnorableDef `yaml:"ignorable,omitempty"`
}

// ActionDef holds the flattened parameters of every action type.
// Durations are milliseconds, as in the rest of the script format.
type ActionDef struct {
	Action   string `yaml:"action"`
	X        int    `yaml:"x,omitempty"`
	Y        int    `yaml:"y,omitempty"`
	X1       int    `yaml:"x1,omitempty"`
	Y1       int    `yaml:"y1,omitempty"`
	X2       int    `yaml:"x2,omitempty"`
	Y2       int    `yaml:"y2,omitempty"`
	Duration int    `yaml:"duration,omitempty"`
	Key      string `yaml:"key,omitempty"`
}

// StepDef is one expected-state/action pair
type StepDef struct {
	Expect    string `yaml:"expect"`
	ActionDef `yaml:",inline"`
}

// IgnorableDef names a dismissible state and how to dismiss it
type IgnorableDef struct {
	State     string `yaml:"state"`
	ActionDef `yaml:",inline"`
}

// actionRegistry maps YAML action names to constructors.
// Names are matched lowercase; aliases keep older scripts working.
var actionRegistry = map[string]func(d ActionDef) Action{
	"tap":       func(d ActionDef) Action { return Tap(d.X, d.Y) },
	"click":     func(d ActionDef) Action { return Tap(d.X, d.Y) },
	"tap_match": func(d ActionDef) Action { return TapMatch() },
	"swipe": func(d ActionDef) Action {
		return Swipe(d.X1, d.Y1, d.X2, d.Y2, ms(d.Duration))
	},
	"wait":     func(d ActionDef) Action { return Wait(ms(d.Duration)) },
	"sleep":    func(d ActionDef) Action { return Wait(ms(d.Duration)) },
	"key":      func(d ActionDef) Action { return KeyPress(d.Key) },
	"send_key": func(d ActionDef) Action { return KeyPress(d.Key) },
	"back":     func(d ActionDef) Action { return KeyPress("KEYCODE_BACK") },
	"done":     func(d ActionDef) Action { return Done() },
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// getRegisteredActions returns a list of all registered action types for error messages
func getRegisteredActions() []string {
	names := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToAction converts the definition into an Action
func (d ActionDef) ToAction() (Action, error) {
	if d.Action == "" {
		return Action{}, fmt.Errorf("missing 'action' field")
	}
	build, ok := actionRegistry[strings.ToLower(d.Action)]
	if !ok {
		return Action{}, fmt.Errorf("unknown action type '%s' (available types: %v)", d.Action, getRegisteredActions())
	}
	return build(d), nil
}

// ToTask converts and validates the file contents
func (f *TaskFile) ToTask() (*Task, error) {
	task := &Task{
		Name:        f.TaskName,
		Description: f.Description,
		Tags:        f.Tags,
		Timeout:     time.Duration(f.Timeout) * time.Second,
	}

	for i, def := range f.Steps {
		action, err := def.ToAction()
		if err != nil {
			return nil, fmt.Errorf("task '%s' step %d: %w", f.TaskName, i+1, err)
		}
		task.Steps = append(task.Steps, Step{Expect: def.Expect, Action: action})
	}

	for i, def := range f.Ignorable {
		action, err := def.ToAction()
		if err != nil {
			return nil, fmt.Errorf("task '%s' ignorable %d: %w", f.TaskName, i+1, err)
		}
		task.Ignorable = append(task.Ignorable, Ignorable{State: def.State, Action: action})
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// ParseTask decodes and validates a task definition
func ParseTask(data []byte) (*Task, error) {
	file, err := decodeTaskFile(data)
	if err != nil {
		return nil, err
	}
	return file.ToTask()
}

// decodeTaskFile rejects unknown keys so typos surface at load time
func decodeTaskFile(data []byte) (*TaskFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file TaskFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task YAML: %w", err)
	}
	return &file, nil
}

// LoadTask reads a single task file. A file without task_name is named
// after its base name.
func LoadTask(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	file, err := decodeTaskFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if file.TaskName == "" {
		file.TaskName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	task, err := file.ToTask()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return task, nil
}

// TaskSet is the collection of tasks available to a session
type TaskSet struct {
	tasks map[string]*Task
	order []string
}

// LoadTasks reads every .yaml/.yml file in dir
func LoadTasks(dir string) (*TaskSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read task directory %s: %w", dir, err)
	}

	set := &TaskSet{tasks: make(map[string]*Task)}
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		task, err := LoadTask(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := set.Add(task); err != nil {
			return nil, err
		}
	}

	return set, nil
}

// Add registers a task, rejecting duplicate names
func (s *TaskSet) Add(task *Task) error {
	if s.tasks == nil {
		s.tasks = make(map[string]*Task)
	}
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("duplicate task name '%s'", task.Name)
	}
	s.tasks[task.Name] = task
	s.order = append(s.order, task.Name)
	return nil
}

// Get retrieves a task by name
func (s *TaskSet) Get(name string) (*Task, bool) {
	task, ok := s.tasks[name]
	return task, ok
}

// Names returns task names in load order
func (s *TaskSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Select resolves names into tasks; an empty list selects every task
func (s *TaskSet) Select(names []string) ([]*Task, error) {
	if len(names) == 0 {
		names = s.order
	}

	out := make([]*Task, 0, len(names))
	for _, name := range names {
		task, ok := s.tasks[name]
		if !ok {
			return nil, fmt.Errorf("unknown task '%s' (available: %v)", name, s.order)
		}
		out = append(out, task)
	}
	return out, nil
}

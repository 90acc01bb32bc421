package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/TymurD/miquella/internal/miquella/persona"
)

// PersonaFile persists the persona inside the YAML config file under
// prompts.persona_instruction. Other keys, comments and ordering are kept.
type PersonaFile struct {
	path string
	mu   sync.Mutex
}

// NewPersonaFile returns a persona port for the config file at path.
func NewPersonaFile(path string) *PersonaFile {
	return &PersonaFile{path: path}
}

// Path returns the config file location.
func (p *PersonaFile) Path() string { return p.path }

func (p *PersonaFile) Load(_ context.Context) (persona.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := Load(p.path)
	if err != nil {
		return persona.Config{}, err
	}
	return persona.Config{
		DefaultInstruction: cfg.Prompts.DefaultInstruction,
		PersonaInstruction: cfg.Prompts.PersonaInstruction,
	}, nil
}

// Save rewrites prompts.persona_instruction and replaces the file atomically.
func (p *PersonaFile) Save(_ context.Context, cfg persona.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config file %s: top level is not a mapping", p.path)
	}

	prompts := mappingChild(root, "prompts")
	setScalar(prompts, "persona_instruction", cfg.PersonaInstruction)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config yaml: %w", err)
	}

	return writeAtomic(p.path, buf.Bytes())
}

// mappingChild returns the mapping stored under key, creating it if absent.
func mappingChild(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			child := m.Content[i+1]
			if child.Kind != yaml.MappingNode {
				*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			}
			return child
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		child,
	)
	return child
}

func setScalar(m *yaml.Node, key, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			v.Kind = yaml.ScalarNode
			v.Tag = "!!str"
			v.Value = value
			v.Style = 0
			v.Content = nil
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o600)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".miquella-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// PersonaKeyInstruction is the KV key holding the mutable persona text.
const PersonaKeyInstruction = "persona.instruction"

// PersonaKV persists the persona in the runtime_config table. The default
// instruction always comes from the file; until the first mutation the
// persona does too.
type PersonaKV struct {
	kv       KV
	defaults persona.Config
}

// NewPersonaKV returns a persona port over kv seeded with defaults.
func NewPersonaKV(kv KV, defaults persona.Config) *PersonaKV {
	return &PersonaKV{kv: kv, defaults: defaults}
}

func (p *PersonaKV) Load(ctx context.Context) (persona.Config, error) {
	cfg := p.defaults
	v, err := p.kv.Get(ctx, PersonaKeyInstruction)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return persona.Config{}, err
	default:
		cfg.PersonaInstruction = v
	}
	return cfg, nil
}

func (p *PersonaKV) Save(ctx context.Context, cfg persona.Config) error {
	return p.kv.Set(ctx, PersonaKeyInstruction, cfg.PersonaInstruction)
}

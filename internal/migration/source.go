package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// Unit is one migration or seeder. IDs are timestamp prefixed so that
// lexicographic order is application order.
type Unit interface {
	ID() string
	Apply(ctx context.Context, tx *Tx) error
}

type funcUnit struct {
	id string
	fn func(ctx context.Context, tx *Tx) error
}

func (u funcUnit) ID() string { return u.id }

func (u funcUnit) Apply(ctx context.Context, tx *Tx) error { return u.fn(ctx, tx) }

// NewUnit wraps fn as a Unit.
func NewUnit(id string, fn func(ctx context.Context, tx *Tx) error) Unit {
	return funcUnit{id: id, fn: fn}
}

// Source yields units in application order.
type Source interface {
	Units() ([]Unit, error)
}

// Registry is a Source of units compiled into the binary.
type Registry struct {
	mu    sync.Mutex
	units map[string]Unit
}

func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{units: map[string]Unit{}}
	if err := r.Add(units...); err != nil {
		return nil, err
	}
	return r, nil
}

// Add registers units; an id may be registered once.
func (r *Registry) Add(units ...Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.units == nil {
		r.units = map[string]Unit{}
	}
	for _, u := range units {
		if u.ID() == "" {
			return errors.New("unit with empty id")
		}
		if _, dup := r.units[u.ID()]; dup {
			return fmt.Errorf("duplicate unit %s", u.ID())
		}
		r.units[u.ID()] = u
	}
	return nil
}

func (r *Registry) Units() ([]Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sortUnits(out)
	return out, nil
}

// Dir reads *.sql files of dir in fsys as units. The id is the file name
// without the extension. A missing directory yields no units.
func Dir(fsys fs.FS, dir string) Source {
	return dirSource{fsys: fsys, dir: dir}
}

type dirSource struct {
	fsys fs.FS
	dir  string
}

func (s dirSource) Units() ([]Unit, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	var units []Unit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := fs.ReadFile(s.fsys, path.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		units = append(units, sqlUnit{
			id:   strings.TrimSuffix(e.Name(), ".sql"),
			body: string(raw),
		})
	}
	sortUnits(units)
	return units, nil
}

// PrefixToken in a SQL file is replaced by the bare table prefix, so owned
// tables are written {prefix}arm_name.
const PrefixToken = "{prefix}"

type sqlUnit struct {
	id   string
	body string
}

func (u sqlUnit) ID() string { return u.id }

func (u sqlUnit) Apply(ctx context.Context, tx *Tx) error {
	body := strings.ReplaceAll(u.body, PrefixToken, tx.Prefix)
	for _, stmt := range SplitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SplitStatements splits on semicolons that sit outside quoted strings,
// quoted identifiers, dollar-quoted bodies and comments. Comments are
// dropped and empty statements are skipped.
func SplitStatements(sql string) []string {
	var (
		stmts   []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '-' && strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
				continue
			}
			current.WriteByte('\n')
			i += end + 1
		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
				continue
			}
			current.WriteByte(' ')
			i += end + 4
		case c == '\'' || c == '"':
			n := quotedLen(sql[i:], c)
			current.WriteString(sql[i : i+n])
			i += n
		case c == '$' && (i == 0 || !isIdentByte(sql[i-1])):
			if tag := dollarTag(sql[i:]); tag != "" {
				end := strings.Index(sql[i+len(tag):], tag)
				n := len(sql) - i
				if end >= 0 {
					n = len(tag) + end + len(tag)
				}
				current.WriteString(sql[i : i+n])
				i += n
				continue
			}
			current.WriteByte(c)
			i++
		case c == ';':
			flush()
			i++
		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()
	return stmts
}

// quotedLen is the length of the quoted run at the start of s, including
// both quotes. A doubled quote is an escaped quote.
func quotedLen(s string, quote byte) int {
	for i := 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// dollarTag returns the opening $tag$ at the start of s, or "" when s does
// not start one. Positional parameters like $1 are not tags.
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1]
		case c >= '0' && c <= '9' && i == 1:
			return ""
		case isIdentByte(c):
		default:
			return ""
		}
	}
	return ""
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// Merge combines sources. An id present in two sources is an error.
func Merge(sources ...Source) Source {
	return mergedSource(sources)
}

type mergedSource []Source

func (m mergedSource) Units() ([]Unit, error) {
	seen := map[string]bool{}
	var out []Unit
	for _, s := range m {
		units, err := s.Units()
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			if seen[u.ID()] {
				return nil, fmt.Errorf("duplicate unit %s", u.ID())
			}
			seen[u.ID()] = true
			out = append(out, u)
		}
	}
	sortUnits(out)
	return out, nil
}

func sortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool { return units[i].ID() < units[j].ID() })
}

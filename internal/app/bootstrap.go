package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/webguard/internal/auth"
	"github.com/odyssey-erp/webguard/internal/rbac"
	"github.com/odyssey-erp/webguard/internal/shared"
)

// SecurityManifest is the YAML document declaring roles and demo users.
type SecurityManifest struct {
	Roles []RoleSpec `yaml:"roles"`
	Users []UserSpec `yaml:"users"`
}

// RoleSpec declares a role and the roles it contains.
type RoleSpec struct {
	Name     string   `yaml:"name"`
	Children []string `yaml:"children"`
}

// UserSpec declares an account. Either Password or PasswordHash is set.
type UserSpec struct {
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	PasswordHash string   `yaml:"password_hash"`
	Admin        bool     `yaml:"admin"`
	Roles        []string `yaml:"roles"`
	Disabled     bool     `yaml:"disabled"`
}

// Security holds the repositories built from a manifest.
type Security struct {
	Roles *rbac.Repository
	Users *auth.MemoryRepository
}

// LoadSecurityFile reads and builds the manifest at path.
func LoadSecurityFile(path string) (*Security, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open security file: %w", err)
	}
	defer f.Close()
	return LoadSecurity(f)
}

// LoadSecurity decodes a manifest from r and builds it.
func LoadSecurity(r io.Reader) (*Security, error) {
	var manifest SecurityManifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode security manifest: %w", err)
	}
	return manifest.Build(0)
}

// Build creates every role first, then links children in declaration order,
// then adds users. cost is the bcrypt cost for plaintext passwords; 0 picks
// the library default.
func (m SecurityManifest) Build(cost int) (*Security, error) {
	roles := rbac.NewRepository()
	for _, spec := range m.Roles {
		if _, err := roles.Create(spec.Name); err != nil {
			return nil, fmt.Errorf("role %q: %w", spec.Name, err)
		}
	}
	for _, spec := range m.Roles {
		for _, child := range spec.Children {
			if err := roles.AddChild(spec.Name, child); err != nil {
				return nil, fmt.Errorf("role %q child %q: %w", spec.Name, child, err)
			}
		}
	}

	users := auth.NewMemoryRepository()
	for _, spec := range m.Users {
		user, err := spec.user(roles, cost)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", spec.Username, err)
		}
		if err := users.Add(user); err != nil {
			return nil, fmt.Errorf("user %q: %w", spec.Username, err)
		}
	}
	return &Security{Roles: roles, Users: users}, nil
}

func (u UserSpec) user(roles *rbac.Repository, cost int) (auth.User, error) {
	hash := strings.TrimSpace(u.PasswordHash)
	switch {
	case hash != "" && u.Password != "":
		return auth.User{}, fmt.Errorf("%w: password and password_hash are exclusive", shared.ErrInvalidArgument)
	case hash == "" && u.Password == "":
		return auth.User{}, fmt.Errorf("%w: password required", shared.ErrInvalidArgument)
	case hash == "":
		var err error
		hash, err = auth.HashPassword(u.Password, cost)
		if err != nil {
			return auth.User{}, err
		}
	}
	for _, name := range u.Roles {
		if _, ok := roles.Get(name); !ok {
			return auth.User{}, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, name)
		}
	}
	return auth.User{
		Username:     strings.TrimSpace(u.Username),
		PasswordHash: hash,
		Admin:        u.Admin,
		Roles:        rbac.NewRoleSet(u.Roles...).Names(),
		IsActive:     !u.Disabled,
	}, nil
}

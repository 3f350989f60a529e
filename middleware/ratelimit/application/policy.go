package application

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"middleware-guard/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// PolicyTable resolve (endpoint, método) -> Policy.
// Endpoints sensíveis têm precedência sobre o padrão por método; sem nenhum
// dos dois, vale o padrão de GET.
type PolicyTable struct {
	Endpoints map[domain.Endpoint]domain.Policy
	Methods   map[string]domain.Policy
}

// DefaultPolicies devolve a tabela estática padrão.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		Endpoints: map[domain.Endpoint]domain.Policy{
			domain.EndpointLogin:         {Limit: 5, Window: 15 * time.Minute},
			domain.EndpointRegister:      {Limit: 3, Window: time.Hour},
			domain.EndpointResetPassword: {Limit: 3, Window: time.Hour},
			domain.EndpointUpload:        {Limit: 10, Window: 10 * time.Minute},
		},
		Methods: map[string]domain.Policy{
			http.MethodGet:    {Limit: 100, Window: time.Minute},
			http.MethodPost:   {Limit: 10, Window: time.Minute},
			http.MethodPut:    {Limit: 5, Window: time.Minute},
			http.MethodDelete: {Limit: 5, Window: time.Minute},
		},
	}
}

func (t PolicyTable) Resolve(endpoint domain.Endpoint, method string) domain.Policy {
	if p, ok := t.Endpoints[endpoint]; ok && endpoint != domain.EndpointGeneric {
		return p
	}
	if p, ok := t.Methods[strings.ToUpper(method)]; ok {
		return p
	}
	return t.Methods[http.MethodGet]
}

// Validate garante que toda política tem limite e janela positivos e que
// existe o padrão de GET usado como último fallback.
func (t PolicyTable) Validate() error {
	for e, p := range t.Endpoints {
		if !p.Valid() {
			return fmt.Errorf("%w: endpoint %q limit=%d window=%s", ErrInvalidPolicy, e, p.Limit, p.Window)
		}
	}
	for m, p := range t.Methods {
		if !p.Valid() {
			return fmt.Errorf("%w: method %q limit=%d window=%s", ErrInvalidPolicy, m, p.Limit, p.Window)
		}
	}
	if _, ok := t.Methods[http.MethodGet]; !ok {
		return fmt.Errorf("%w: missing GET default", ErrInvalidPolicy)
	}
	return nil
}

// Merge devolve uma cópia de t com as entradas de o sobrescrevendo as de t.
func (t PolicyTable) Merge(o PolicyTable) PolicyTable {
	out := PolicyTable{
		Endpoints: make(map[domain.Endpoint]domain.Policy, len(t.Endpoints)+len(o.Endpoints)),
		Methods:   make(map[string]domain.Policy, len(t.Methods)+len(o.Methods)),
	}
	for k, v := range t.Endpoints {
		out.Endpoints[k] = v
	}
	for k, v := range o.Endpoints {
		out.Endpoints[k] = v
	}
	for k, v := range t.Methods {
		out.Methods[k] = v
	}
	for k, v := range o.Methods {
		out.Methods[k] = v
	}
	return out
}

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
}

// ParseOverrides lê o formato NOME:LIMITE:JANELA separado por vírgula.
// NOME em maiúsculas que seja um método HTTP vira padrão por método; o resto
// é nome de endpoint. JANELA aceita duração Go ("15m") ou segundos ("900").
//
//	login:5:15m,register:3:1h,POST:20:60
func ParseOverrides(raw string) (PolicyTable, error) {
	out := PolicyTable{
		Endpoints: map[domain.Endpoint]domain.Policy{},
		Methods:   map[string]domain.Policy{},
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return PolicyTable{}, fmt.Errorf("%w: override must follow NAME:LIMIT:WINDOW: %q", ErrInvalidPolicy, item)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return PolicyTable{}, fmt.Errorf("%w: invalid limit for %q: %v", ErrInvalidPolicy, parts[0], err)
		}
		window, err := parseWindow(parts[2])
		if err != nil {
			return PolicyTable{}, fmt.Errorf("%w: invalid window for %q: %v", ErrInvalidPolicy, parts[0], err)
		}
		if err := out.set(strings.TrimSpace(parts[0]), domain.Policy{Limit: limit, Window: window}); err != nil {
			return PolicyTable{}, err
		}
	}
	return out, nil
}

type policyFile struct {
	Endpoints map[string]policyEntry `yaml:"endpoints"`
	Methods   map[string]policyEntry `yaml:"methods"`
}

type policyEntry struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadPolicyFile lê overrides de um arquivo YAML:
//
//	endpoints:
//	  login: {limit: 5, window: 15m}
//	methods:
//	  POST: {limit: 20, window: 1m}
func LoadPolicyFile(path string) (PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyTable{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicyYAML(data)
}

func ParsePolicyYAML(data []byte) (PolicyTable, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return PolicyTable{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalidPolicy, err)
	}

	out := PolicyTable{
		Endpoints: map[domain.Endpoint]domain.Policy{},
		Methods:   map[string]domain.Policy{},
	}
	for name, e := range f.Endpoints {
		p, err := e.policy(name)
		if err != nil {
			return PolicyTable{}, err
		}
		if err := out.setEndpoint(name, p); err != nil {
			return PolicyTable{}, err
		}
	}
	for name, e := range f.Methods {
		p, err := e.policy(name)
		if err != nil {
			return PolicyTable{}, err
		}
		m := strings.ToUpper(strings.TrimSpace(name))
		if !httpMethods[m] {
			return PolicyTable{}, fmt.Errorf("%w: unknown method %q", ErrInvalidPolicy, name)
		}
		out.Methods[m] = p
	}
	return out, nil
}

func (e policyEntry) policy(name string) (domain.Policy, error) {
	w, err := parseWindow(e.Window)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("%w: invalid window for %q: %v", ErrInvalidPolicy, name, err)
	}
	return domain.Policy{Limit: e.Limit, Window: w}, nil
}

func (t PolicyTable) set(name string, p domain.Policy) error {
	if httpMethods[name] {
		t.Methods[name] = p
		return nil
	}
	return t.setEndpoint(name, p)
}

func (t PolicyTable) setEndpoint(name string, p domain.Policy) error {
	if !validEndpointName(name) {
		return fmt.Errorf("%w: invalid endpoint name %q", ErrInvalidPolicy, name)
	}
	t.Endpoints[domain.Endpoint(name)] = p
	return nil
}

func validEndpointName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func parseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

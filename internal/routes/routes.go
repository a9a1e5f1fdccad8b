// Package routes defines the gateway's route table: which downstream owns a
// path, whether it needs authentication, which roles may call it, which rate
// class budgets it, and whether responses are cacheable.
package routes

import (
	"strings"
	"time"

	"github.com/openmarkets/tradegate/internal/token"
)

// Downstream service identifiers.
const (
	DownstreamUser      = "user"
	DownstreamInventory = "inventory"
	DownstreamOrder     = "order"
	DownstreamGateway   = "gateway" // handled locally, never proxied
)

// Rate classes. Each class has its own budget in config.
const (
	ClassDefault = "default"
	ClassAuth    = "auth"
	ClassOrder   = "order"
)

// Route describes one proxied path.
type Route struct {
	// Pattern is the path pattern, e.g. "/api/v1/orders/{id}".
	// Segments of the form {name} match any single non-empty segment.
	Pattern string

	// Methods is the allowed method set. Empty means any method.
	Methods []string

	Downstream   string
	AuthRequired bool

	// AllowedRoles is the minimum set of roles that may call the route.
	// Empty with AuthRequired=true means any authenticated role.
	AllowedRoles []token.Role

	// OwnerParam names a path parameter that must equal the caller's
	// subject unless the caller is an admin. Empty disables the check.
	OwnerParam string

	RateClass      string
	BreakerEnabled bool

	// CacheTTL enables the response cache for idempotent GETs when > 0.
	CacheTTL time.Duration

	// LoginPath marks the route whose 401 responses feed the IP block
	// counter.
	LoginPath bool
}

// segments returns the pattern split on "/", without the leading empty
// element.
func segments(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

// match reports whether path matches r.Pattern and returns the bound params.
func (r *Route) match(path string) (map[string]string, bool) {
	want := segments(r.Pattern)
	got := segments(path)
	if len(want) != len(got) {
		return nil, false
	}

	var params map[string]string
	for i, w := range want {
		if strings.HasPrefix(w, "{") && strings.HasSuffix(w, "}") {
			if got[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[w[1:len(w)-1]] = got[i]
			continue
		}
		if w != got[i] {
			return nil, false
		}
	}
	return params, true
}

// allowsMethod reports whether the route accepts method.
func (r *Route) allowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// AllowsRole reports whether a verified identity with the given role may use
// the route. Routes without an explicit role set accept any authenticated
// role.
func (r *Route) AllowsRole(role token.Role) bool {
	if !r.AuthRequired {
		return true
	}
	if len(r.AllowedRoles) == 0 {
		return role.Valid()
	}
	for _, allowed := range r.AllowedRoles {
		if role.AtLeast(allowed) {
			return true
		}
	}
	return false
}

// Match is the result of a table lookup.
type Match struct {
	Route  *Route
	Params map[string]string
}

// Table is the ordered route table. Longest pattern wins; order breaks ties.
type Table struct {
	routes []*Route
}

// NewTable builds a table from the given routes, sorted so that patterns
// with more literal segments match before shorter or more generic ones.
func NewTable(routes []*Route) *Table {
	sorted := make([]*Route, len(routes))
	copy(sorted, routes)

	// Stable insertion sort on specificity: more total segments first,
	// then more literal (non-param) segments.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && moreSpecific(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &Table{routes: sorted}
}

func moreSpecific(a, b *Route) bool {
	as, bs := segments(a.Pattern), segments(b.Pattern)
	if len(as) != len(bs) {
		return len(as) > len(bs)
	}
	return literals(as) > literals(bs)
}

func literals(segs []string) int {
	n := 0
	for _, s := range segs {
		if !strings.HasPrefix(s, "{") {
			n++
		}
	}
	return n
}

// Lookup finds the route for (method, path). Returns nil when no route
// matches; the gateway turns that into a 404.
func (t *Table) Lookup(method, path string) *Match {
	for _, r := range t.routes {
		if !r.allowsMethod(method) {
			continue
		}
		if params, ok := r.match(path); ok {
			return &Match{Route: r, Params: params}
		}
	}
	return nil
}

// customerUp is the role set for customer-or-better routes.
var customerUp = []token.Role{token.RoleCustomer}

// DefaultTable returns the platform route table.
func DefaultTable() *Table {
	return NewTable([]*Route{
		// Auth (user service). Login and register are public; login 401s
		// feed the IP block counter.
		{Pattern: "/api/v1/auth/register", Methods: []string{"POST"}, Downstream: DownstreamUser,
			RateClass: ClassAuth, BreakerEnabled: true},
		{Pattern: "/api/v1/auth/login", Methods: []string{"POST"}, Downstream: DownstreamUser,
			RateClass: ClassAuth, BreakerEnabled: true, LoginPath: true},
		{Pattern: "/api/v1/auth/logout", Methods: []string{"POST"}, Downstream: DownstreamUser,
			AuthRequired: true, RateClass: ClassAuth, BreakerEnabled: true},
		{Pattern: "/api/v1/auth/me", Methods: []string{"GET"}, Downstream: DownstreamUser,
			AuthRequired: true, RateClass: ClassDefault, BreakerEnabled: true, CacheTTL: 5 * time.Minute},

		// Inventory (public reads, cacheable).
		{Pattern: "/api/v1/inventory/assets", Methods: []string{"GET"}, Downstream: DownstreamInventory,
			RateClass: ClassDefault, BreakerEnabled: true, CacheTTL: time.Minute},
		{Pattern: "/api/v1/inventory/assets/{id}", Methods: []string{"GET"}, Downstream: DownstreamInventory,
			RateClass: ClassDefault, BreakerEnabled: true, CacheTTL: 5 * time.Minute},

		// Balance (user service, customer+).
		{Pattern: "/api/v1/balance", Methods: []string{"GET"}, Downstream: DownstreamUser,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassDefault, BreakerEnabled: true},
		{Pattern: "/api/v1/balance/deposit", Methods: []string{"POST"}, Downstream: DownstreamUser,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassOrder, BreakerEnabled: true},
		{Pattern: "/api/v1/balance/withdraw", Methods: []string{"POST"}, Downstream: DownstreamUser,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassOrder, BreakerEnabled: true},
		{Pattern: "/api/v1/balance/transactions", Methods: []string{"GET"}, Downstream: DownstreamUser,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassDefault, BreakerEnabled: true},

		// Orders (order service, customer+).
		{Pattern: "/api/v1/orders", Methods: []string{"POST"}, Downstream: DownstreamOrder,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassOrder, BreakerEnabled: true},
		{Pattern: "/api/v1/orders", Methods: []string{"GET"}, Downstream: DownstreamOrder,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassDefault, BreakerEnabled: true},
		{Pattern: "/api/v1/orders/{id}", Methods: []string{"GET"}, Downstream: DownstreamOrder,
			AuthRequired: true, AllowedRoles: customerUp, RateClass: ClassDefault, BreakerEnabled: true},

		// Portfolio: owner or admin.
		{Pattern: "/api/v1/portfolio/{subject}", Methods: []string{"GET"}, Downstream: DownstreamOrder,
			AuthRequired: true, AllowedRoles: customerUp, OwnerParam: "subject",
			RateClass: ClassDefault, BreakerEnabled: true},
	})
}

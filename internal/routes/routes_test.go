package routes

import (
	"testing"
	"time"

	"github.com/openmarkets/tradegate/internal/token"
)

func TestTable_LongestPatternWins(t *testing.T) {
	table := NewTable([]*Route{
		{Pattern: "/api/v1/inventory/assets", Methods: []string{"GET"}, Downstream: DownstreamInventory},
		{Pattern: "/api/v1/inventory/assets/{id}", Methods: []string{"GET"}, Downstream: DownstreamInventory},
	})

	m := table.Lookup("GET", "/api/v1/inventory/assets/btc")
	if m == nil {
		t.Fatal("expected match")
	}
	if m.Params["id"] != "btc" {
		t.Fatalf("params = %v", m.Params)
	}

	m = table.Lookup("GET", "/api/v1/inventory/assets")
	if m == nil || m.Params != nil {
		t.Fatalf("list route match = %+v", m)
	}
}

func TestTable_LiteralBeatsParam(t *testing.T) {
	table := NewTable([]*Route{
		{Pattern: "/api/v1/orders/{id}", Methods: []string{"GET"}, Downstream: DownstreamOrder},
		{Pattern: "/api/v1/orders/stats", Methods: []string{"GET"}, Downstream: DownstreamGateway},
	})

	m := table.Lookup("GET", "/api/v1/orders/stats")
	if m == nil || m.Route.Downstream != DownstreamGateway {
		t.Fatalf("literal route should win, got %+v", m)
	}
}

func TestTable_NoMatch(t *testing.T) {
	table := DefaultTable()
	if m := table.Lookup("GET", "/api/v1/nope"); m != nil {
		t.Fatalf("unexpected match: %+v", m)
	}
	if m := table.Lookup("DELETE", "/api/v1/orders"); m != nil {
		t.Fatalf("method not in set should not match, got %+v", m)
	}
}

func TestTable_MethodDisambiguates(t *testing.T) {
	table := DefaultTable()

	post := table.Lookup("POST", "/api/v1/orders")
	get := table.Lookup("GET", "/api/v1/orders")
	if post == nil || get == nil {
		t.Fatal("both methods should match")
	}
	if post.Route.RateClass != ClassOrder {
		t.Fatalf("POST rate class = %s, want %s", post.Route.RateClass, ClassOrder)
	}
	if get.Route.RateClass != ClassDefault {
		t.Fatalf("GET rate class = %s, want %s", get.Route.RateClass, ClassDefault)
	}
}

func TestDefaultTable_PublicRoutes(t *testing.T) {
	table := DefaultTable()

	public := []struct{ method, path string }{
		{"POST", "/api/v1/auth/register"},
		{"POST", "/api/v1/auth/login"},
		{"GET", "/api/v1/inventory/assets"},
		{"GET", "/api/v1/inventory/assets/xyz"},
	}
	for _, p := range public {
		m := table.Lookup(p.method, p.path)
		if m == nil {
			t.Fatalf("no route for %s %s", p.method, p.path)
		}
		if m.Route.AuthRequired {
			t.Errorf("%s %s should be public", p.method, p.path)
		}
	}

	protected := []struct{ method, path string }{
		{"GET", "/api/v1/balance"},
		{"POST", "/api/v1/orders"},
		{"GET", "/api/v1/auth/me"},
		{"POST", "/api/v1/auth/logout"},
	}
	for _, p := range protected {
		m := table.Lookup(p.method, p.path)
		if m == nil {
			t.Fatalf("no route for %s %s", p.method, p.path)
		}
		if !m.Route.AuthRequired {
			t.Errorf("%s %s should require auth", p.method, p.path)
		}
	}
}

func TestRoute_AllowsRole(t *testing.T) {
	r := &Route{AuthRequired: true, AllowedRoles: []token.Role{token.RoleCustomer}}

	if r.AllowsRole(token.RolePublic) {
		t.Error("public should be rejected")
	}
	for _, role := range []token.Role{token.RoleCustomer, token.RoleVIP, token.RoleAdmin} {
		if !r.AllowsRole(role) {
			t.Errorf("%s should be allowed", role)
		}
	}

	anyAuth := &Route{AuthRequired: true}
	if !anyAuth.AllowsRole(token.RoleCustomer) {
		t.Error("routes without a role set accept any authenticated role")
	}
	if anyAuth.AllowsRole(token.Role("bogus")) {
		t.Error("unknown roles are never allowed")
	}
}

func TestDefaultTable_LoginFlags(t *testing.T) {
	table := DefaultTable()

	login := table.Lookup("POST", "/api/v1/auth/login")
	if login == nil || !login.Route.LoginPath {
		t.Fatal("login route must carry LoginPath")
	}

	me := table.Lookup("GET", "/api/v1/auth/me")
	if me == nil || me.Route.CacheTTL != 5*time.Minute {
		t.Fatalf("auth/me cache ttl = %+v", me)
	}
}

func TestDefaultTable_OwnerParam(t *testing.T) {
	table := DefaultTable()
	m := table.Lookup("GET", "/api/v1/portfolio/alice")
	if m == nil {
		t.Fatal("no portfolio route")
	}
	if m.Route.OwnerParam != "subject" || m.Params["subject"] != "alice" {
		t.Fatalf("match = %+v params = %v", m.Route, m.Params)
	}
}

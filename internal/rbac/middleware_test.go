package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

type staticPermissions map[int64][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, who *shared.Identity) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if who != nil {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), *who))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAnyAndAll(t *testing.T) {
	m := Middleware{Service: staticPermissions{
		1: {"sales.invoice.view", "SALES.INVOICE.POST"},
		2: {"sales.invoice.view"},
	}}
	poster := &shared.Identity{UserID: 1, CompanyID: 1}
	viewer := &shared.Identity{UserID: 2, CompanyID: 1}

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermInvoicePost), poster))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermInvoicePost), viewer))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(shared.PermInvoicePost, shared.PermInvoiceView), viewer))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermInvoicePost, shared.PermInvoiceView), viewer))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermInvoicePost, shared.PermInvoiceView), poster))
}

func TestRequireWithoutIdentity(t *testing.T) {
	m := Middleware{Service: staticPermissions{}}
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermInvoicePost), nil))
}

func TestSuperAdminBypass(t *testing.T) {
	m := Middleware{Service: staticPermissions{}}
	root := &shared.Identity{UserID: 5, CompanyID: 1, Roles: shared.ParseRoles([]string{"super_admin"})}
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll(shared.PermInvoiceVoid), root))

	ok, err := Checker{Source: staticPermissions{}}.Can(context.Background(), *root, shared.PermSalesOrderCreditOverride)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChecker(t *testing.T) {
	c := Checker{Source: staticPermissions{3: {"sales.order.credit_override"}}}
	ok, err := c.Can(context.Background(), shared.Identity{UserID: 3}, shared.PermSalesOrderCreditOverride)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Can(context.Background(), shared.Identity{UserID: 4}, shared.PermSalesOrderCreditOverride)
	require.NoError(t, err)
	require.False(t, ok)
}

package tenant

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"letterpress/models"
)

// AdminPrefix marks the admin sub-context of a tenant domain
// (admin.example.com serves the admin surface of example.com).
const AdminPrefix = "admin."

// Context is the result of resolving a request hostname.
type Context struct {
	Hostname string
	Domain   string
	IsAdmin  bool
	Site     *models.Site
}

type Resolver struct {
	db *gorm.DB

	// overrideDomain substitutes the lookup domain on loopback requests so
	// local development works without DNS entries.
	overrideDomain string
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		db:             db,
		overrideDomain: strings.TrimSpace(os.Getenv("SITE_DOMAIN_OVERRIDE")),
	}
}

// NormalizeHostname strips the port and lower-cases the host.
func NormalizeHostname(host string) string {
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(strings.TrimSpace(host))
}

func isLoopback(domain string) bool {
	return domain == "localhost" || domain == "127.0.0.1" || domain == "::1"
}

// Resolve maps a raw request host to a site. It returns
// models.ErrNotFound when no site matches the domain and a
// models.ErrStorage wrap on infrastructure failure; the returned Context
// is populated either way so callers can still route on IsAdmin.
func (r *Resolver) Resolve(host string) (*Context, error) {
	hostname := NormalizeHostname(host)
	isAdmin := strings.HasPrefix(hostname, AdminPrefix)
	domain := hostname
	if isAdmin {
		domain = hostname[len(AdminPrefix):]
	}

	ctx := &Context{Hostname: hostname, Domain: domain, IsAdmin: isAdmin}

	if domain == "" {
		return ctx, models.NewValidationError("host", "missing hostname")
	}

	lookupDomain := domain
	loopback := isLoopback(domain)
	if loopback && r.overrideDomain != "" {
		lookupDomain = r.overrideDomain
	}

	var site models.Site
	err := r.db.Where("domain = ?", lookupDomain).First(&site).Error
	if err == nil {
		ctx.Site = &site
		return ctx, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ctx, fmt.Errorf("%w: site lookup: %v", models.ErrStorage, err)
	}

	// Loopback with no configured override falls back to the earliest
	// created site, keeping local testing functional.
	if loopback && r.overrideDomain == "" {
		err = r.db.Order("created_at ASC").First(&site).Error
		if err == nil {
			ctx.Site = &site
			return ctx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ctx, fmt.Errorf("%w: site fallback lookup: %v", models.ErrStorage, err)
		}
	}

	return ctx, fmt.Errorf("%w: no site for domain %q", models.ErrNotFound, lookupDomain)
}

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Rendered post pages are cached on disk per site domain. Entries are
// invalidated on any write to the post and expire by age otherwise.

// GetCachePath returns the cache file path for a post page.
func GetCachePath(domain, slug string) string {
	hash := generateHash(domain + slug)
	shortHash := hash[:16]
	cacheDir := filepath.Join("cache", domain)
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%s.html", slug, shortHash))
}

// generateHash generates an xxHash hash for the given string
func generateHash(s string) string {
	hash := xxhash.Sum64String(s)
	return fmt.Sprintf("%016x", hash)
}

// EnsureCacheDir ensures the cache directory exists
func EnsureCacheDir(domain string) error {
	cacheDir := filepath.Join("cache", domain)
	return os.MkdirAll(cacheDir, 0755)
}

// WriteCache writes HTML content to cache file
func WriteCache(domain, slug, html string) error {
	if err := EnsureCacheDir(domain); err != nil {
		return err
	}

	cachePath := GetCachePath(domain, slug)
	return os.WriteFile(cachePath, []byte(html), 0644)
}

// ReadCache reads HTML content from cache file if it exists and is not expired
func ReadCache(domain, slug string, maxAge time.Duration) (string, bool) {
	cachePath := GetCachePath(domain, slug)

	info, err := os.Stat(cachePath)
	if err != nil {
		return "", false
	}

	if time.Since(info.ModTime()) > maxAge {
		return "", false
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}

	return string(content), true
}

// ClearCache removes a specific cache file
func ClearCache(domain, slug string) error {
	cachePath := GetCachePath(domain, slug)
	err := os.Remove(cachePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ClearSiteCache removes every cached page of a site.
func ClearSiteCache(domain string) error {
	err := os.RemoveAll(filepath.Join("cache", domain))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Namespace groups keys that share a default TTL.
type Namespace string

const (
	NamespaceMetadata   Namespace = "metadata"
	NamespaceTranscript Namespace = "transcript"
	NamespaceSummary    Namespace = "summary"
	NamespaceAccount    Namespace = "account"
)

// DefaultTTL applies to keys outside the known namespaces.
const DefaultTTL = time.Hour

var namespaceTTLs = map[Namespace]time.Duration{
	NamespaceMetadata:   24 * time.Hour,
	NamespaceTranscript: 7 * 24 * time.Hour,
	NamespaceSummary:    30 * 24 * time.Hour,
	NamespaceAccount:    10 * time.Second,
}

// TTL returns the default lifetime of entries in the namespace.
func (n Namespace) TTL() time.Duration {
	if ttl, ok := namespaceTTLs[n]; ok {
		return ttl
	}
	return DefaultTTL
}

// Key builds "namespace:part[:part...]".
func Key(ns Namespace, parts ...string) string {
	return string(ns) + ":" + strings.Join(parts, ":")
}

// ContentKey addresses a value by the hash of its inputs so identical work
// requested by different accounts shares one entry. input is hashed in its
// JSON form; map keys are sorted by encoding/json so the key is stable.
func ContentKey(ns Namespace, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("hash cache input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return Key(ns, "sha256", hex.EncodeToString(sum[:])), nil
}

func namespaceOf(key string) Namespace {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return Namespace(key[:idx])
	}
	return ""
}

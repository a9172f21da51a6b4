package contextpack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/diffindex"
)

const queryPatch = `diff --git a/src/auth/login.ts b/src/auth/login.ts
--- a/src/auth/login.ts
+++ b/src/auth/login.ts
@@ -10,6 +10,8 @@
 export function login(user: string) {
-  return session.open(user)
+  validateUser(user)
+  return session.open(user, { secure: true })
 }
`

func TestBuildQueryComposition(t *testing.T) {
	diff := diffindex.Parse(queryPatch)
	q := BuildQuery("Harden login session", strings.Repeat("b", 2000), diff)

	assert.Contains(t, q, "Harden login session")
	assert.Contains(t, q, "src/auth/login.ts")
	assert.Contains(t, q, "validateUser(user)")
	assert.Contains(t, q, "return session.open(user)")
	// Context lines carry no signal.
	assert.NotContains(t, q, "export function login")
	// Body is truncated to its cap.
	assert.LessOrEqual(t, strings.Count(q, "b"), maxBodyChars+50)
	assert.LessOrEqual(t, len(q), maxQueryChars)
}

func TestTokenize(t *testing.T) {
	toks := tokenize("Fix the sessionStore; return nil when user_id is empty")
	assert.True(t, toks["fix"])
	assert.True(t, toks["sessionstore"])
	assert.True(t, toks["user"])
	assert.True(t, toks["id"])
	assert.True(t, toks["empty"])
	// Stopwords and short tokens are dropped.
	assert.False(t, toks["the"])
	assert.False(t, toks["return"])
	assert.False(t, toks["nil"])
}

func TestJaccard(t *testing.T) {
	a := tokenize("session login validate")
	b := tokenize("session login validate")
	assert.Equal(t, 1.0, jaccard(a, b))

	c := tokenize("completely unrelated words")
	assert.Equal(t, 0.0, jaccard(a, c))

	d := tokenize("session something different here")
	require.Greater(t, jaccard(a, d), 0.0)
	assert.Less(t, jaccard(a, d), 1.0)

	assert.Equal(t, 0.0, jaccard(nil, a))
}

func TestPathTokens(t *testing.T) {
	toks := pathTokens("src/auth/session_store.ts")
	assert.True(t, toks["auth"])
	assert.True(t, toks["session"])
	assert.True(t, toks["store"])
	assert.True(t, toks["ts"])
}

func TestDepthBonus(t *testing.T) {
	assert.Equal(t, 0.08, depthBonus(1))
	assert.Equal(t, 0.04, depthBonus(2))
	assert.Equal(t, 0.0, depthBonus(3))
	assert.InDelta(t, -0.06, depthBonus(4), 1e-9)
	assert.Equal(t, -0.12, depthBonus(9))
}

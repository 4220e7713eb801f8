package cache

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/SubCrawler/internal/config"
)

// mongoTestURIEnv names a MongoDB to run the integration tests against.
const mongoTestURIEnv = "SUBCRAWLER_TEST_MONGO_URI"

func newTestMongo(t *testing.T) *Mongo {
	t.Helper()
	uri := os.Getenv(mongoTestURIEnv)
	if uri == "" {
		t.Skipf("%s not set", mongoTestURIEnv)
	}
	coll := "cache_test_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	m, err := NewMongo(context.Background(), uri, "subcrawler_test", coll)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.coll.Drop(context.Background())
		m.Close()
	})
	return m
}

func TestNewMongoRequiresURI(t *testing.T) {
	_, err := NewMongo(context.Background(), "", "subcrawler", "cache")
	assert.ErrorContains(t, err, "uri is empty")
}

func TestOpenMongoWithoutURI(t *testing.T) {
	t.Setenv("SUBCRAWLER_TEST_UNSET_MONGO_URI", "")
	c, err := Open(context.Background(), config.Cache{
		Backend: "mongo",
		Mongo:   config.MongoConfig{URIEnv: "SUBCRAWLER_TEST_UNSET_MONGO_URI", Database: "subcrawler", Collection: "cache"},
	})
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestOpenMongoUnreachable(t *testing.T) {
	t.Setenv("SUBCRAWLER_TEST_BAD_MONGO_URI", "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Open(ctx, config.Cache{
		Backend: "mongo",
		Mongo:   config.MongoConfig{URIEnv: "SUBCRAWLER_TEST_BAD_MONGO_URI", Database: "subcrawler", Collection: "cache"},
	})
	assert.Error(t, err)
}

func TestMongoRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)

	require.NoError(t, m.Set(ctx, "posts:golang", []byte(`[{"id":"a"}]`), 10*time.Minute))
	v, err := m.Get(ctx, "posts:golang")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(v))

	require.NoError(t, m.Set(ctx, "posts:golang", []byte(`[]`), 10*time.Minute))
	v, err = m.Get(ctx, "posts:golang")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(v))

	require.NoError(t, m.Delete(ctx, "posts:golang"))
	_, err = m.Get(ctx, "posts:golang")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMongoExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	m := newTestMongo(t)

	// The TTL monitor has not run yet; reads must still filter on expiry.
	require.NoError(t, m.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

package apiv1

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The served document must stay loadable and internally consistent; a broken
// spec breaks the swagger endpoint silently otherwise.
func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)

	require.NoError(t, doc.Validate(context.Background()))
	assert.Equal(t, "AudioFox API", doc.Info.Title)
}

func TestOpenAPIDocumentCoversRegisteredRoutes(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)

	for _, path := range []string{
		"/ping",
		"/account",
		"/account/credits",
		"/imports",
		"/imports/batch",
		"/imports/batch/{uuid}",
		"/media",
		"/media/{uuid}",
		"/media/{uuid}/transcript",
		"/media/{uuid}/play",
		"/assets/{uuid}/download",
	} {
		assert.NotNil(t, doc.Paths.Find(path), "path %s missing from openapi.yml", path)
	}
}

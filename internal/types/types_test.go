package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":      JPEG,
		"jpg":   JPEG,
		"JPEG":  JPEG,
		" png ": PNG,
		"gif":   GIF,
		"webp":  WEBP,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("tiff")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNormalize(t *testing.T) {
	o := TransformOptions{Width: 10}.Normalize()
	assert.Equal(t, JPEG, o.Format)
	assert.Equal(t, DefaultQuality, o.Quality)
	assert.Equal(t, Preserve, o.Aspect)

	o = TransformOptions{Width: 10, Format: PNG, Quality: 40}.Normalize()
	assert.Zero(t, o.Quality)
}

func TestNewTransformRequest(t *testing.T) {
	req, err := NewTransformRequest("a.png", []byte{1}, TransformOptions{Width: 5, Format: WEBP})
	require.NoError(t, err)
	assert.Equal(t, Preserve, req.Options.Aspect)

	_, err = NewTransformRequest("  ", nil, TransformOptions{Width: 5})
	var pe *ParameterError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "filename", pe.Name)

	_, err = NewTransformRequest("a.png", nil, TransformOptions{Width: 5, Height: MaxDimension + 1})
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "dimensions", pe.Name)

	_, err = NewTransformRequest("a.png", nil, TransformOptions{Width: 5, Aspect: "crop"})
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "aspect", pe.Name)
}

func TestResizeJobOptions(t *testing.T) {
	opts, err := ResizeJob{UserId: "u", Width: 3, Format: "jpg", Aspect: "STRETCH"}.Options()
	require.NoError(t, err)
	assert.Equal(t, TransformOptions{ClientID: "u", Width: 3, Format: JPEG, Aspect: Stretch}, opts)

	_, err = ResizeJob{Width: 3, Format: "bmp"}.Options()
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestErrorTaxonomy(t *testing.T) {
	inner := errors.New("unexpected EOF")
	te := fmt.Errorf("item 2: %w", &TransformError{FileName: "a.png", Err: inner})
	assert.ErrorIs(t, te, inner)
	assert.NotErrorIs(t, te, ErrInvalidParameter)

	de := fmt.Errorf("archive: %w", &DeliveryError{Err: inner})
	assert.True(t, IsDelivery(de))
	assert.False(t, IsDelivery(te))

	swe := &StoreWriteError{Key: "k", Err: inner}
	assert.Contains(t, swe.Error(), "k")
	assert.ErrorIs(t, swe, inner)
}

func TestBatchResult(t *testing.T) {
	r := BatchResult{
		{Index: 0, Record: AssetRecord{FileName: "a", Data: []byte("xy"), Options: TransformOptions{Format: PNG}}},
		{Index: 1, Err: errors.New("bad")},
		{Index: 2, Record: AssetRecord{FileName: "c"}},
	}
	assert.Equal(t, 1, r.Failed())
	ok := r.Succeeded()
	require.Len(t, ok, 2)
	assert.Equal(t, "a", ok[0].FileName)
	assert.Equal(t, "c", ok[1].FileName)
	assert.Equal(t, 2, ok[0].Size())
	assert.Equal(t, "image/png", ok[0].ContentType())
}

func TestTransformOptionsJSONOmitsClient(t *testing.T) {
	body, err := json.Marshal(TransformOptions{ClientID: "aa:bb:cc", Width: 10, Format: JPEG, Quality: 80, Aspect: Stretch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"width":10,"format":"jpeg","quality":80,"aspect":"stretch"}`, string(body))

	var back TransformOptions
	require.NoError(t, json.Unmarshal([]byte(`{"clientId":"x","ClientID":"y","width":4}`), &back))
	assert.Empty(t, back.ClientID)
	assert.Equal(t, 4, back.Width)
}

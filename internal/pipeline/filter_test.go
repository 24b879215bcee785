package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

func variant(id, typ, name, format string) models.CompressedVariant {
	return models.CompressedVariant{
		FileID: id, FileType: typ, VariantName: name, OutputFormat: format,
		StoragePath: "files/" + typ + "/" + id + "/" + name + "/image." + format,
	}
}

func filterInput() pipeline.FilterInput {
	return pipeline.FilterInput{
		Variants: []models.CompressedVariant{
			variant("f1", "image", "orig", "PNG"),
			variant("f1", "image", "thumb", "JPEG"),
			variant("f2", "image", "orig", "PNG"),
			variant("d1", "document", "orig", "PNG"),
		},
		CompressionRules: []models.CompressionRule{
			{FileType: "image", OutputFormat: "PNG", VariantName: "orig", TargetWidth: 0},
			{FileType: "image", OutputFormat: "JPEG", VariantName: "thumb", TargetWidth: 200},
			{FileType: "document", OutputFormat: "PNG", VariantName: "orig", TargetWidth: 0},
		},
		ModerationRules: []models.ModerationRule{{
			FileType:  "image",
			LabelData: models.LabelData{DefaultMetadata: map[string]any{"title": ""}},
		}},
	}
}

func TestSelectKeepsOnlyModeratedMasters(t *testing.T) {
	got := pipeline.Select(filterInput())
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, "image", c.FileType, "types without a moderation rule are dropped")
		assert.Contains(t, c.SourcePath, "/orig/", "resized variants are never candidates")
		assert.Equal(t, map[string]any{"title": ""}, c.LabelDefaults.DefaultMetadata)
	}
}

func TestSelectHonoursExclusions(t *testing.T) {
	in := filterInput()
	in.Exclusions = []models.ModerationExclusion{{FileID: "f1", FileType: "image"}}

	got := pipeline.Select(in)
	require.Len(t, got, 1)
	assert.Equal(t, "f2", got[0].FileID)
}

func TestSelectUsesConfiguredMasterNotName(t *testing.T) {
	in := filterInput()
	// "orig" is now resized, so nothing of type image is a master.
	in.CompressionRules[0].TargetWidth = 640
	got := pipeline.Select(in)
	assert.Empty(t, got)
}

func TestSelectPicksOneMasterPerFile(t *testing.T) {
	in := filterInput()
	in.Variants = append(in.Variants, variant("f1", "image", "archive", "PNG"))
	in.CompressionRules = append(in.CompressionRules, models.CompressionRule{FileType: "image", OutputFormat: "PNG", VariantName: "archive"})

	got := pipeline.Select(in)
	require.Len(t, got, 2)
	assert.Equal(t, "f1", got[0].FileID)
	assert.Contains(t, got[0].SourcePath, "/archive/")
}

func TestFilterDropsRowsWithoutSignedURL(t *testing.T) {
	signer := &fakeSigner{fail: map[string]bool{"/f2/": true}}
	f := pipeline.NewModerationFilter(signer, time.Hour, 2, nil, zap.NewNop())

	got := f.Filter(context.Background(), filterInput())
	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].FileID)
	assert.Equal(t, "https://signed.example/files/image/f1/orig/image.PNG", got[0].AccessURL)
}

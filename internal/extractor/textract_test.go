package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

type fakeTextract struct {
	input  *textract.AnalyzeDocumentInput
	output *textract.AnalyzeDocumentOutput
	err    error
}

func (f *fakeTextract) AnalyzeDocument(_ context.Context, in *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.input = in
	return f.output, f.err
}

func word(id, text string) types.Block {
	return types.Block{Id: aws.String(id), BlockType: types.BlockTypeWord, Text: aws.String(text)}
}

func keyBlock(id, valueID string, page int32, words ...string) types.Block {
	return types.Block{
		Id:          aws.String(id),
		BlockType:   types.BlockTypeKeyValueSet,
		EntityTypes: []types.EntityType{types.EntityTypeKey},
		Page:        aws.Int32(page),
		Relationships: []types.Relationship{
			{Type: types.RelationshipTypeValue, Ids: []string{valueID}},
			{Type: types.RelationshipTypeChild, Ids: words},
		},
	}
}

func valueBlock(id string, words ...string) types.Block {
	return types.Block{
		Id:            aws.String(id),
		BlockType:     types.BlockTypeKeyValueSet,
		EntityTypes:   []types.EntityType{types.EntityTypeValue},
		Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: words}},
	}
}

func cardBlocks() []types.Block {
	return []types.Block{
		keyBlock("k1", "v1", 1, "w1"), valueBlock("v1", "w2"),
		word("w1", "Prénom"), word("w2", "CORINNE"),
		keyBlock("k2", "v2", 1, "w3"), valueBlock("v2", "w4"),
		word("w3", "NOM"), word("w4", "BERTHIER"),
		keyBlock("k3", "v3", 1, "w5", "w6", "w7"), valueBlock("v3", "w8"),
		word("w5", "DATE"), word("w6", "DE"), word("w7", "NAISS."), word("w8", "06.12.1965"),
		keyBlock("k4", "v4", 2, "w9"), valueBlock("v4", "w10"),
		word("w9", "NOM"), word("w10", "BACKSIDE"),
	}
}

func TestFormFieldsFromBlocks(t *testing.T) {
	got := FormFieldsFromBlocks(cardBlocks())

	assert.Equal(t, []model.FormField{
		{Key: "Prénom", Value: "CORINNE"},
		{Key: "NOM", Value: "BERTHIER"},
		{Key: "DATE DE NAISS.", Value: "06.12.1965"},
	}, got)
}

func TestTextractAnalyzer_AnalyzeForm(t *testing.T) {
	fake := &fakeTextract{output: &textract.AnalyzeDocumentOutput{Blocks: cardBlocks()}}

	got, err := NewTextractAnalyzer(fake).AnalyzeForm(context.Background(), "uploads", "req-1.jpg")

	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, "uploads", aws.ToString(fake.input.Document.S3Object.Bucket))
	assert.Equal(t, "req-1.jpg", aws.ToString(fake.input.Document.S3Object.Name))
	assert.Equal(t, []types.FeatureType{types.FeatureTypeForms}, fake.input.FeatureTypes)

	id, err := New().Extract(got)
	require.NoError(t, err)
	assert.Equal(t, "BERTHIER", id.Lastname)
}

func TestTextractAnalyzer_Error(t *testing.T) {
	fake := &fakeTextract{err: errors.New("AccessDenied")}

	_, err := NewTextractAnalyzer(fake).AnalyzeForm(context.Background(), "uploads", "req-1.jpg")

	assert.ErrorContains(t, err, "AccessDenied")
}

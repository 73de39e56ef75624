package extractor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// TextractAnalyzer runs FORMS analysis with Amazon Textract.
type TextractAnalyzer struct {
	client TextractAPI
}

// NewTextractAnalyzer creates a DocumentAnalyzer backed by Textract.
func NewTextractAnalyzer(client TextractAPI) *TextractAnalyzer {
	return &TextractAnalyzer{client: client}
}

// AnalyzeForm implements DocumentAnalyzer.
func (a *TextractAnalyzer) AnalyzeForm(ctx context.Context, bucket, key string) ([]model.FormField, error) {
	out, err := a.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document: &types.Document{
			S3Object: &types.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)},
		},
		FeatureTypes: []types.FeatureType{types.FeatureTypeForms},
	})
	if err != nil {
		return nil, fmt.Errorf("textract analyze document %s/%s: %w", bucket, key, err)
	}
	return FormFieldsFromBlocks(out.Blocks), nil
}

// FormFieldsFromBlocks resolves the KEY blocks of the first page into
// key/value text pairs, preserving block order.
func FormFieldsFromBlocks(blocks []types.Block) []model.FormField {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var fields []model.FormField
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeKeyValueSet || !slices.Contains(b.EntityTypes, types.EntityTypeKey) {
			continue
		}
		if b.Page != nil && *b.Page != 1 {
			continue
		}

		field := model.FormField{Key: childText(b, byID)}
		for _, rel := range b.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if v, ok := byID[id]; ok {
					field.Value = childText(v, byID)
				}
			}
		}
		fields = append(fields, field)
	}
	return fields
}

func childText(b types.Block, byID map[string]types.Block) string {
	var words []string
	for _, rel := range b.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			child, ok := byID[id]
			if !ok {
				continue
			}
			switch child.BlockType {
			case types.BlockTypeWord:
				words = append(words, aws.ToString(child.Text))
			case types.BlockTypeSelectionElement:
				if child.SelectionStatus == types.SelectionStatusSelected {
					words = append(words, "X")
				}
			}
		}
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

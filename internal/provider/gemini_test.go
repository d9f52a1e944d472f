package provider

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"google.golang.org/genai"
)

func TestBuildGenAIContentsMapsRoles(t *testing.T) {
	contents, err := buildGenAIContents(Request{
		Messages: []Message{
			{Role: RoleUser, Content: "question"},
			{Role: RoleAssistant, Content: "answer"},
			{Role: RoleUser, Content: "follow-up"},
		},
	})
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "answer", contents[1].Parts[0].Text)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)
}

func TestBuildGenAIContentsDecodesAttachments(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("file bytes"))
	contents, err := buildGenAIContents(Request{
		Messages: []Message{{
			Role:    RoleUser,
			Content: "what does this say",
			Attachments: []Attachment{
				{Filename: "a.pdf", MIMEType: "application/pdf", Data: "data:application/pdf;base64," + payload},
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2)

	blob := contents[0].Parts[0].InlineData
	require.NotNil(t, blob)
	assert.Equal(t, "application/pdf", blob.MIMEType)
	assert.Equal(t, []byte("file bytes"), blob.Data)
	assert.Equal(t, "what does this say", contents[0].Parts[1].Text)
}

func TestBuildGenAIContentsRejectsBadBase64(t *testing.T) {
	_, err := buildGenAIContents(Request{
		Messages: []Message{{
			Role:        RoleUser,
			Attachments: []Attachment{{Filename: "x", Data: "!!not-base64!!"}},
		}},
	})
	assert.Error(t, err)
}

func TestStripDataURL(t *testing.T) {
	assert.Equal(t, "aGk=", stripDataURL("data:text/plain;base64,aGk="))
	assert.Equal(t, "aGk=", stripDataURL("aGk="))
}

package services

import (
	"fmt"

	"google.golang.org/genai"
)

const groundedSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.
If the context doesn't contain the answer, say you don't know.
Be concise and accurate in your responses.`

const visualContentHint = " When describing visual content, be sure to include details from the image descriptions provided in the context."

// primingReply is the model turn that acknowledges the system text, which is
// sent as a user turn.
const primingReply = "I understand and will assist with your request."

const imageDescriptionPrompt = `Please analyze this image in detail and provide a comprehensive description that includes:
1. Any visible text (transcribe it exactly as shown)
2. A description of any charts, graphs, or diagrams
3. The overall purpose and content of the image
4. Any important details that would be relevant for search and retrieval

Be thorough and precise in your description.`

const chatSystemPrompt = `You are a helpful assistant for a library of PDF documents that have been processed into a searchable index. Pages include extracted text and descriptions of the images they contain.

Use the 'searchDocuments' tool whenever the user asks something that needs knowledge from the documents. Cite page numbers from the tool results. You can remember earlier turns of the conversation and answer follow-up questions without searching again when the information is already available.

Do not invent information. If the documents don't contain the answer, say you don't know.`

// systemPrompt returns the grounded-answer instruction, optionally asking the
// model to use image descriptions.
func systemPrompt(withVisualHint bool) string {
	if withVisualHint {
		return groundedSystemPrompt + visualContentHint
	}
	return groundedSystemPrompt
}

func userPrompt(context, query string) string {
	return fmt.Sprintf(`Context:
%s

Question: %s

Answer the question based on the context above. If the context doesn't contain the answer, say you don't know.`, context, query)
}

// GetChatSystemPrompt is the system instruction of conversational sessions.
func GetChatSystemPrompt() *genai.Content {
	contents := genai.Text(chatSystemPrompt)
	if len(contents) == 0 {
		return nil
	}
	return contents[0]
}

package rag

// HistoryKey names the prompt placeholder that receives the prior transcript.
const HistoryKey = "chat_history"

// DefaultRetrievalCount is the number of passages handed to the answer step.
const DefaultRetrievalCount = 3

// DefaultRewriteInstruction turns a follow-up into a standalone question.
const DefaultRewriteInstruction = "Given a chat history and the latest user question which might reference context in the chat history, " +
	"formulate a standalone question which can be understood without the chat history. " +
	"Do NOT answer the question, just reformulate it if needed and otherwise return it as is."

// DefaultAnswerInstruction scopes answers to product recommendations and reviews.
// It must reference {context} and {input}.
const DefaultAnswerInstruction = `Your ecommercebot bot is an expert in product recommendations and customer queries.
It analyzes product titles and reviews to provide accurate and helpful responses.
Ensure your answers are relevant to the product context and refrain from straying off-topic.
Your responses should be concise and informative.

CONTEXT:
{context}

QUESTION: {input}

YOUR ANSWER:`

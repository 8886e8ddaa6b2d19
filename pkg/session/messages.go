package session

import "fmt"

const (
	Greeting = "You can now chat with your pdfs."
	Welcome  = "Welcome to the PDF QA demo! To get started:\n1. Upload a PDF or text file\n2. Ask a question about the file\n"
)

func processingMessage(name string) string {
	return fmt.Sprintf("Processing..`%s`...", name)
}

func processedMessage(name string) string {
	return fmt.Sprintf("`%s` processed. You can now ask questions!", name)
}

func failedMessage(name string, err error) string {
	return fmt.Sprintf("Failed to process `%s`: %v", name, err)
}

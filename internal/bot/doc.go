// Package bot adds an automated participant to group conversations.
//
// A message whose text starts with the trigger (default "@chatBot") is
// handed to the Augmenter after it has been delivered. The Augmenter builds
// a prompt scoped to the group's subject, asks a Generator for a reply, and
// publishes the reply under the bot's user ID. Conversations without a
// subject, including every private conversation, are ignored.
//
// Replies go through Publisher.Publish, which never consults the trigger,
// so a reply that happens to start with "@chatBot" cannot loop.
//
// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint:
//
//	gen := bot.NewOpenAIGenerator(bot.OpenAIConfig{
//	    APIKey:  key,
//	    BaseURL: "https://openrouter.ai/api/v1",
//	    Model:   "google/gemini-2.0-flash-lite-preview-02-05:free",
//	})
package bot

package memory

const sentimentSystemPrompt = `Rate the emotional tone of the final message in a conversation.
Answer with a single integer from -5 to 5 and nothing else.
-5 means intense negative emotion such as rage or despair, 0 means neutral or purely factual,
5 means intense positive emotion such as joy or elation. Judge only the final message;
earlier turns are context.`

const helpfulnessSystemPrompt = `Rate how helpful the final message is as a reply within the conversation.
Answer with a single decimal from 0.0 to 1.0 and nothing else.
0.0 is off-topic or useless, around 0.2 is small talk or a bare acknowledgement,
around 0.5 is a partial answer or a clarifying question, around 0.8 is a useful answer
missing some detail, and 1.0 is a complete, directly actionable answer.`

const excitementSystemPrompt = `Rate how exciting a single message is.
Answer with a single decimal from 0.0 to 1.0 and nothing else.
Mundane remarks ("I had toast") score near 0.0; major news ("we just got funded") scores near 0.9.`

const triplesSystemPrompt = `Extract at most three factual (subject, relation, object) triples from a message.
Return only a JSON array shaped like [{"s":"...","p":"...","o":"..."}].
Relations are snake_case verbs such as works_at or lives_in.
Prefer the most salient facts when more than three are present.
Return [] when the message states no facts.`

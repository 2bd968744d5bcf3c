package agent

// ConfirmationMessageID tags every confirmation request so clients can
// correlate the reply.
const ConfirmationMessageID = "confirm_123"

// Fixed channel-facing notices.
const (
	// CancellationNotice replaces a pending AI message's content when the
	// human declines, so the next LLM turn sees no pending tool calls.
	CancellationNotice = "Please wait for the further user input."

	CancelledMessage   = "Operation cancelled."
	ProceedingMessage  = "Great! Proceeding with the operation..."
	ConfirmationPrompt = "Do you want to proceed? (yes/no)"
)

// userInputTemplate wraps each raw user input before it enters the message
// log.
const userInputTemplate = `
**Please analyze below user input**

User Input: %s
`

// systemInstruction is the static half of the system prompt; the discovered
// tool catalog is appended at generation time.
const systemInstruction = `**CRITICAL SECURITY RULES - MUST FOLLOW AT ALL TIMES:**

1. **NEVER show, display, mention, or confirm any token values, passwords, API keys, or authentication credentials**
2. **If a user asks about a token, password, or credential, respond with: "For security reasons, I cannot display authentication credentials."**
3. **Even if you see tokens in the tool outputs or messages, NEVER repeat them to the user**
4. **Replace any token/password values with <REDACTED> if you need to reference them (angle brackets, NOT square brackets - square brackets are reserved for tool call syntax)**

These security rules override all other instructions.

---

**CRITICAL TOOL EXECUTION RULES - MUST FOLLOW AT ALL TIMES:**

1. **NEVER ASSUME, PREDICT, FABRICATE, SIMULATE, OR GUESS TOOL OUTPUT**
2. **When you generate a tool call, STOP IMMEDIATELY - the system will execute it automatically**
3. **Do NOT write example outputs, predicted results, or hypothetical data**
4. **ONLY analyze and discuss results AFTER receiving actual tool output from the system**

---

You are a Tools Assistant helping users interact with Ansible Automation Platform to troubleshoot and resolve system issues.

Your responsibilities:
1. Help users select the appropriate tool based on their problem description
2. Guide users to provide required parameters for tool execution
3. Execute tools and wait for actual results
4. Explain tool outputs clearly, including both successful results and errors

If the user asks what services or tools are available, describe the tools from the <Tool Description> section below without executing anything, then ask what they would like to do. If a required argument is missing, ask the user to provide it before proceeding.`

// decisionPromptHeader precedes the assistant text handed to the
// classification oracle. The oracle answers with a bare yes or no.
const decisionPromptHeader = `Analyze the following AI message output from "Context" and respond with ONLY "Yes" or "No":

"Yes" if the message contains actual tool call syntax like [tool_name(parameter='value')] or [tool_name()] as its final action, not followed by requests for user input.
"Yes" if the message explicitly announces imminent tool execution with actual parameter values (or no parameters needed) and does not request user input.
"Yes" if the message contains tool call syntax and says "Please wait for the actual output from the system" (execution is happening, not asking for input).

"No" if there is no tool call syntax anywhere in the message.
"No" if the message reports that a tool executed successfully or is presenting results from a completed execution (past tense).
"No" if the message shows an example tool call and then asks the user to provide information or fill in parameter values.
"No" if the message is listing available services, tools, or capabilities without showing an actual tool call.
"No" if any tool parameter comes from assumption rather than an actual value.
"No" if the message is purely analytical, explanatory, or proposes further actions without immediate execution.

Standard closing phrases like "Please let me know if there's anything else" should be ignored when deciding.

Context:
`

// structurePrefix and structureSuffix bracket the structuring oracle's
// context: prefix, tool catalog, assistant text inside <messages> tags,
// suffix.
const structurePrefix = `Tool Selection: Please go through the tools' description between <Tool Description> and </Tool Description>. You have access to these tools and these are the only available tools. You must select the correct tool based on the user's intent.

Please go through the message between <messages> and </messages>
  1. Ignore the tool output in the message
  2. Always select the first tool mentioned in the messages as response

Structured JSON Format: Every tool call you make must be formatted as a list of JSON objects. Each object must contain exactly two keys:

"name": The string identifier for the tool

"args": A dictionary containing the key-value pairs of the tool's required arguments.

Basic Single Tool Call:

[{'name': 'tool_name_here', 'args': {'arg1': 'value1', 'arg2': 'value2'}}]

Multiple Parallel Tool Calls:

[
  {'name': 'check_disk_space', 'args': {'server': 'web-server'}},
  {'name': 'check_memory_usage', 'args': {'server': 'web-server'}}
]

Available Tools:
`

const structureSuffix = `
</messages>

The response should be ONLY this JSON content, without:
  - Any explanatory text
  - Markdown code blocks
  - Additional commentary

The response should be clean JSON that can be directly consumed by other functions.`

// BuildSystemPrompt joins the static instruction with the discovered tool
// catalog.
func BuildSystemPrompt(catalog string) string {
	return systemInstruction + "\n\n" + catalog
}

package analyzer

// classifyPrompt asks the model to bucket the pane's current state. The
// heuristics about "(esc to interrupt)" and numbered choices live here
// rather than in code so the model resolves borderline captures.
const classifyPrompt = `You are watching a terminal pane running an AI coding agent.
Classify the pane's CURRENT state into exactly one of:

- "option_dialog": the agent is presenting a choice and waiting for the user
  to pick an option. Numbered or lettered choices (1. / 2. / a) / [y/n]),
  or highlighted menu entries, indicate this state.
- "in_progress": the agent is actively working. The text "(esc to interrupt)"
  anywhere in the recent output always means in_progress.
- "open_prompt": the agent is done and showing an empty input prompt waiting
  for the next instruction.

Focus on the LAST 10 lines; earlier lines are context only.
Respond with a JSON object: {"state": "<one of the three>"}

Pane content:
%s`

// optionsPrompt extracts the dialog structure once stage A said option_dialog.
const optionsPrompt = `A terminal pane shows an AI coding agent waiting on a choice.
Extract the dialog as JSON:

{
  "question": "<the question being asked, one line>",
  "options": [
    {"action": "<short label>", "keys": ["<tmux key to select it, e.g. 1 or Enter>"], "description": "<optional detail>"}
  ],
  "potential_harm": {"has_risk": <true if any option could delete data, run destructive commands, or push/publish>, "description": "<why, or empty>"}
}

List options in the order shown. The first option must be the default
(the one plain Enter would pick, if any). "keys" is always an array.

Pane content:
%s`

// summaryPrompt produces the idle-pane summary line.
const summaryPrompt = `A terminal pane shows an AI coding agent that has finished
and is waiting at an empty prompt. In one or two sentences, past tense,
summarise what the agent just did. Respond as JSON: {"summary": "<text>"}

Pane content:
%s`

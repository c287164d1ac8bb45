// ABOUTME: Closed set of transaction action kinds and their display labels
// ABOUTME: Unknown kinds fall through to the generic custom decoder

package txparse

// ActionKind identifies what a pending transaction does. The set is closed;
// any unrecognized value is decoded via the generic fallback.
type ActionKind string

// Known action kinds.
const (
	KindCreate                   ActionKind = "create"
	KindCreateWithPermissionless ActionKind = "create_with_permissionless_execution"
	KindExecute                  ActionKind = "execute"
	KindVote                     ActionKind = "vote"
	KindClose                    ActionKind = "close"
	KindSync                     ActionKind = "sync"
	KindChangeConfig             ActionKind = "change_config"
	KindAddNewMember             ActionKind = "add_new_member"
	KindNativeTransferIntent     ActionKind = "native_transfer_intent"
	KindTokenTransferIntent      ActionKind = "token_transfer_intent"
)

// Known reports whether k is one of the closed action kinds.
func (k ActionKind) Known() bool {
	switch k {
	case KindCreate, KindCreateWithPermissionless, KindExecute, KindVote,
		KindClose, KindSync, KindChangeConfig, KindAddNewMember,
		KindNativeTransferIntent, KindTokenTransferIntent:
		return true
	}
	return false
}

// Severity is the visual weight of an action label.
type Severity string

// Label severities.
const (
	SeverityDefault     Severity = "default"
	SeverityOutline     Severity = "outline"
	SeveritySecondary   Severity = "secondary"
	SeverityDestructive Severity = "destructive"
)

// Label is the human-readable tag shown for an action kind.
type Label struct {
	Text     string
	Severity Severity
}

var labels = map[ActionKind]Label{
	KindCreate:                   {Text: "Create Transaction", Severity: SeverityDefault},
	KindCreateWithPermissionless: {Text: "Create And Execute Transaction", Severity: SeverityDefault},
	KindExecute:                  {Text: "Execute Transaction", Severity: SeverityDefault},
	KindVote:                     {Text: "Approve Transaction", Severity: SeverityOutline},
	KindClose:                    {Text: "Close Transaction", Severity: SeverityDestructive},
	KindSync:                     {Text: "Create And Execute Transaction (Sync)", Severity: SeverityDefault},
	KindChangeConfig:             {Text: "Change Config", Severity: SeverityDefault},
	KindAddNewMember:             {Text: "Add New Passkey Member", Severity: SeveritySecondary},
	KindNativeTransferIntent:     {Text: "Transfer Solana Request", Severity: SeverityDefault},
	KindTokenTransferIntent:      {Text: "Transfer Token Request", Severity: SeverityDefault},
}

// LabelFor returns the display label for k. Unknown kinds get a generic
// default-severity label carrying the raw kind text.
func LabelFor(k ActionKind) Label {
	if l, ok := labels[k]; ok {
		return l
	}
	return Label{Text: string(k), Severity: SeverityDefault}
}

// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"
)

// Issue identifiers. Zero means "no guidance page".
const (
	NotProjectRootId Id = iota + 1
	NotLoggedInId
	NotEntitledId
	IntegrityFailedId
	InvalidManifestId
	DependencyCycleId
	ModuleNotFoundId
	InjectionTargetId
	SchemaConflictId
	ProjectLockedId
	HasDependentsId
	ConfigLoadFailedId
)

type (
	// Id identifies a guidance page.
	Id int

	// MarkdownMsg is Markdown rendered to the terminal.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	HttpLink string //nolint:revive // Matches the established name.

	// Issue is a guidance page shown after a failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

var (
	render = glamour.Render

	issues = map[Id]*Issue{
		NotProjectRootId: {id: NotProjectRootId, mdMsg: `
# Not a kaven project

kaven looks for a ` + "`kaven.toml`" + ` file in the current directory and its parents.

## Things you can try
- Run the command from the root of your project
- Create a minimal ` + "`kaven.toml`" + `:
~~~toml
[project]
name = "my-app"

[schema]
base = "prisma/base.prisma"
output = "prisma/schema.prisma"
~~~`, docLinks: []HttpLink{"https://docs.kaven.sh/cli/project"}},

		NotLoggedInId: {id: NotLoggedInId, mdMsg: `
# You are not logged in

Marketplace modules need an account or a license key.

## Things you can try
~~~
$ kaven auth login --email you@example.com
~~~
- Or pass a license key: ` + "`kaven module add <slug> --license KEY`" + `
- In CI, set ` + "`KAVEN_LICENSE_KEY`" + ` or ` + "`KAVEN_ACCESS_TOKEN`", docLinks: []HttpLink{"https://docs.kaven.sh/cli/auth"}},

		NotEntitledId: {id: NotEntitledId, mdMsg: `
# Module not unlocked

Your account or license key does not grant this module. Nothing was downloaded or written.

## Things you can try
- Check the subscription status of the module in the marketplace
- Renew an expired subscription, then retry
- Make sure the license key belongs to this module`, docLinks: []HttpLink{"https://docs.kaven.sh/marketplace/licenses"}},

		IntegrityFailedId: {id: IntegrityFailedId, mdMsg: `
# Integrity check failed

A downloaded artifact does not match its checksum or is not signed by the trusted publisher.
Nothing was installed.

## Things you can try
- Retry; a proxy may have altered the download
- Verify ` + "`trust.publisher_key`" + ` in your kaven configuration
- Report the module to the publisher if the problem persists`, docLinks: []HttpLink{"https://docs.kaven.sh/security/signatures"}},

		InvalidManifestId: {id: InvalidManifestId, mdMsg: `
# Invalid module manifest

The module's ` + "`module.json`" + ` failed validation. Each problem is listed above with its field path.

## Things you can try
- Contact the module publisher; the package cannot be installed as published`},

		DependencyCycleId: {id: DependencyCycleId, mdMsg: `
# Dependency cycle

The modules listed above depend on each other in a loop, so no install order exists.

## Things you can try
- Remove one of the ` + "`moduleDependencies`" + ` entries in the cycle`},

		ModuleNotFoundId: {id: ModuleNotFoundId, mdMsg: `
# Module not found

## Things you can try
- Check the slug for typos
- If you use an offline registry, check ` + "`registry.dir`" + ` in your configuration`},

		InjectionTargetId: {id: InjectionTargetId, mdMsg: `
# Injection point not found

The module expected an anchor or code pattern in one of your files. The project was left untouched.

## Things you can try
- Restore the anchor comments the module documents, e.g.
~~~ts
// kaven:anchor routes
// kaven:anchor-end routes
~~~
- If the file was heavily customised, add the anchor pair where the code should go`},

		SchemaConflictId: {id: SchemaConflictId, mdMsg: `
# Schema conflict

Two schema sources declare the same field with different types. The schema was not written.

## Things you can try
- Rename or retype the field in your base schema
- Remove the conflicting module`},

		ProjectLockedId: {id: ProjectLockedId, mdMsg: `
# Project is busy

Another kaven process is installing or removing modules in this project.

## Things you can try
- Wait for it to finish and retry
- If no other kaven is running, delete ` + "`.kaven/install.lock`"},

		HasDependentsId: {id: HasDependentsId, mdMsg: `
# Module is required by others

## Things you can try
- Remove the dependent modules listed above first`},

		ConfigLoadFailedId: {id: ConfigLoadFailedId, mdMsg: `
# Configuration error

## Things you can try
~~~
$ kaven config show
~~~
- Fix or delete the config file named above`},
	}
)

// Id returns the identifier of the issue.
func (i *Issue) Id() Id { return i.id } //nolint:revive // Matches the established name.

// MarkdownMsg returns the raw Markdown.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the page with the glamour style at stylePath.
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.docLinks {
			md += "- " + string(link) + "\n"
		}
	}
	return render(md, stylePath)
}

// Values returns every issue ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, id := range slices.Sorted(maps.Keys(issues)) {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the issue for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

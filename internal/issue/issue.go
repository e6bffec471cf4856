// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	MatrixNotFoundId Id = iota + 1
	MatrixParseErrorId
	UnknownEnvironmentId
	InheritanceCycleId
	ProvisionFailedId
	BuildFailedId
	CommandFailedId
	UnresolvedLibraryId
	LibraryConflictId
	TestsFailedId
	GateFailedId
	PublishRejectedId
	ConfigLoadFailedId
	WorkDirLockedId
	UnknownPlaceholderId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also\n"
		for _, link := range i.docLinks {
			extraMd += "\n- <" + string(link) + ">"
		}
		for _, link := range i.extLinks {
			extraMd += "\n- <" + string(link) + ">"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	matrixNotFoundIssue = &Issue{
		id: MatrixNotFoundId,
		mdMsg: `
# No matrix file found!

wheelhouse looks for a matrix in the current directory, in this order:
1. ` + "`wheelhouse.cue`" + `
2. the ` + "`[tool.wheelhouse]`" + ` table of ` + "`pyproject.toml`" + `

## Things you can try:
- Point at a file explicitly:
~~~
$ wheelhouse run -f path/to/wheelhouse.cue
~~~

- Or start from a minimal matrix:
~~~cue
envlist: ["py3"]
envs: py3: {
	deps: ["pytest"]
	commands: ["wheelhouse test {posargs}"]
}
~~~`,
	}

	matrixParseErrorIssue = &Issue{
		id: MatrixParseErrorId,
		mdMsg: `
# The matrix file is invalid!

The matrix did not match the schema or failed semantic validation.

## Common causes:
- A misspelled key; unknown keys are rejected
- ` + "`policy`" + ` other than "required" or "best-effort"
- ` + "`install`" + ` other than "package", "develop" or "skip"
- ` + "`inherit`" + ` naming an environment that does not exist
- ` + "`envlist`" + ` naming an abstract environment

## Things you can try:
- Print the embedded schema:
~~~
$ wheelhouse config schema
~~~`,
	}

	unknownEnvironmentIssue = &Issue{
		id: UnknownEnvironmentId,
		mdMsg: `
# Unknown environment!

The selection names an environment the matrix does not declare. Nothing ran.

## Things you can try:
- List the environments, including abstract base sets:
~~~
$ wheelhouse list -a
~~~
- Select several at once with ` + "`-e py3,lint`" + `, or everything with ` + "`-e ALL`",
	}

	inheritanceCycleIssue = &Issue{
		id: InheritanceCycleId,
		mdMsg: `
# Inheritance cycle detected!

Environments inherit dependency sets by reference, and the chain loops back
on itself. The error lists the cycle path.

## Things you can try:
- Move the shared dependencies into an abstract base environment
- Remove one ` + "`inherit`" + ` entry along the reported path`,
	}

	provisionFailedIssue = &Issue{
		id: ProvisionFailedId,
		mdMsg: `
# Environment provisioning failed!

Creating the virtual environment or installing its dependency set failed.

## Things you can try:
- Check that the configured interpreter exists (` + "`python`" + ` in the matrix)
- Rebuild from scratch:
~~~
$ wheelhouse run -e py3 --recreate
~~~
- Inspect the pip output printed above for the failing requirement`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Wheel build failed!

The build command did not produce a wheel in the dist directory.

## Things you can try:
- Forward the cross-compilation hints the build needs via ` + "`build.pass_env`" + `
  (for example ` + "`CARGO_BUILD_TARGET`" + ` or ` + "`SCCACHE_*`" + `)
- Run the build command by hand inside the environment to see the full output`,
	}

	commandFailedIssue = &Issue{
		id: CommandFailedId,
		mdMsg: `
# A command exited with a non-zero status!

Required environments stop at the first failing command and fail the run.

## Things you can try:
- Re-run only the failing environment with verbose output:
~~~
$ wheelhouse run -e <env> -v
~~~
- Mark environments that may fail as ` + "`policy: \"best-effort\"`" + `
- Use ` + "`--keep-going`" + ` to run the remaining environments anyway`,
	}

	unresolvedLibraryIssue = &Issue{
		id: UnresolvedLibraryId,
		mdMsg: `
# A native dependency could not be found!

The auditor walked the wheel's shared library dependencies and one of them
is neither inside the wheel, on the library search path, nor allowlisted by
the platform policy. The wheel was left untouched and a diagnostic file
` + "`<wheel>.audit.json`" + ` was written next to it.

## Things you can try:
- Add the directory holding the library to ` + "`audit.library_path`" + `
- Forward ` + "`LD_LIBRARY_PATH`" + ` to the environment running the audit`,
	}

	libraryConflictIssue = &Issue{
		id: LibraryConflictId,
		mdMsg: `
# Conflicting native libraries!

Two different files claim the same library name, or a dependency was built
for a different machine or word size than the binary loading it. Bundling
either copy could break symbol resolution on the target host.

## Things you can try:
- Make sure the library search path contains a single build of the library
- Rebuild the native core against the same toolchain as its dependencies`,
	}

	testsFailedIssue = &Issue{
		id: TestsFailedId,
		mdMsg: `
# The test run failed!

At least one test failed after all retries, exceeded its timeout, or is
marked as an expected failure but passed (strict xfail).

## Things you can try:
- Read the JSON report for per-test attempts and durations
- Remove tests from ` + "`test.xfail`" + ` once they are fixed`,
	}

	gateFailedIssue = &Issue{
		id: GateFailedId,
		mdMsg: `
# The lint/doc gate failed!

Each style root, the document check and the optional docs build are
independent units. The summary lists which ones failed.`,
	}

	publishRejectedIssue = &Issue{
		id: PublishRejectedId,
		mdMsg: `
# Wheel rejected for publishing!

Wheels still tagged with a bare ` + "`linux_*`" + ` platform are not portable and are
never uploaded.

## Things you can try:
~~~
$ wheelhouse audit dist/
$ wheelhouse publish dist/
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

## Things you can try:
- Check the syntax of ` + "`~/.config/wheelhouse/config.cue`" + `
- Print the effective configuration:
~~~
$ wheelhouse config show
~~~`,
	}

	workDirLockedIssue = &Issue{
		id: WorkDirLockedId,
		mdMsg: `
# The work directory is in use!

Another wheelhouse run holds the lock on this work directory. Runs against
the same work directory are serialized.

## Things you can try:
- Wait for the other run to finish
- Point this run at a different ` + "`work_dir`",
	}

	unknownPlaceholderIssue = &Issue{
		id: UnknownPlaceholderId,
		mdMsg: `
# Unknown placeholder in a command!

Commands may use ` + "`{posargs}`" + `, ` + "`{posargs:default}`" + `, ` + "`{envtmpdir}`" + `,
` + "`{envdir}`" + `, ` + "`{distdir}`" + `, ` + "`{rootdir}`" + ` and ` + "`{envname}`" + `.
Write ` + "`{{`" + ` and ` + "`}}`" + ` for literal braces.`,
	}

	issues = map[Id]*Issue{
		matrixNotFoundIssue.Id():     matrixNotFoundIssue,
		matrixParseErrorIssue.Id():   matrixParseErrorIssue,
		unknownEnvironmentIssue.Id(): unknownEnvironmentIssue,
		inheritanceCycleIssue.Id():   inheritanceCycleIssue,
		provisionFailedIssue.Id():    provisionFailedIssue,
		buildFailedIssue.Id():        buildFailedIssue,
		commandFailedIssue.Id():      commandFailedIssue,
		unresolvedLibraryIssue.Id():  unresolvedLibraryIssue,
		libraryConflictIssue.Id():    libraryConflictIssue,
		testsFailedIssue.Id():        testsFailedIssue,
		gateFailedIssue.Id():         gateFailedIssue,
		publishRejectedIssue.Id():    publishRejectedIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		workDirLockedIssue.Id():      workDirLockedIssue,
		unknownPlaceholderIssue.Id(): unknownPlaceholderIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	values := maps.Values(issues)
	slices.SortFunc(values, func(a, b *Issue) int { return int(a.id - b.id) })
	return values
}

func Get(id Id) *Issue {
	return issues[id]
}

// Package viewsync owns the cross-view synchronization policy between a
// source view and a linked target view: the IL-kind mapping table, the
// override state machine, and location/highlight propagation.
package viewsync

import (
	"errors"
	"log/slog"

	"reflectview/internal/ilkind"
	"reflectview/internal/viewloc"
)

// ErrUnresolvable reports that a position could not be translated into
// the requested representation, typically because the function has not
// been analyzed to that depth yet. Propagation treats it as a no-op.
var ErrUnresolvable = errors.New("viewsync: position unresolvable in target representation")

// Resolver is the analysis collaborator consulted for cross-representation
// position correlation. Implementations may be expensive; the controller
// never calls them outside a triggering event.
type Resolver interface {
	ResolvePosition(f *viewloc.FuncRef, from ilkind.Kind, pos viewloc.Position, to ilkind.Kind) (viewloc.Position, error)
	IsAnalyzed(f *viewloc.FuncRef, kind ilkind.Kind) bool
	HasToken(f *viewloc.FuncRef, kind ilkind.Kind, tok viewloc.TokenState) bool
}

// TargetView is the linked view the controller drives. The controller
// holds it only for the lifetime of one pairing session.
type TargetView interface {
	ILKind() ilkind.Kind
	SetILKind(ilkind.Kind)
	Location() (viewloc.Location, bool)
	ApplyLocation(viewloc.Location) bool
	SupportsKind(ilkind.Kind) bool
}

// State is the sync session state. It lives exactly as long as the
// linked-view pairing that created it.
type State struct {
	ILSync         bool
	LocationSync   bool
	Override       bool
	LastSourceKind ilkind.Kind
	LastTargetKind ilkind.Kind
}

// Controller runs the synchronization state machine. All methods must
// be called from the UI event loop; events are processed one at a time
// in delivery order, so no locking is needed.
type Controller struct {
	state    State
	ilMap    map[ilkind.Kind]ilkind.Kind
	target   TargetView
	resolver Resolver

	// gen stamps every source navigation so deferred resolution results
	// can be identity-checked before they are applied.
	gen      uint64
	genFunc  *viewloc.FuncRef
	applying bool // suppresses the manual-change path while we set the target kind ourselves
}

// New creates the sync session for one source/target pairing. Both
// sync modes start enabled, matching a freshly opened reflection pane.
func New(target TargetView, resolver Resolver) *Controller {
	return &Controller{
		state: State{
			ILSync:         true,
			LocationSync:   true,
			LastSourceKind: ilkind.NormalGraph,
			LastTargetKind: ilkind.NormalGraph,
		},
		ilMap:    make(map[ilkind.Kind]ilkind.Kind),
		target:   target,
		resolver: resolver,
	}
}

// State returns a copy of the current sync state.
func (c *Controller) State() State { return c.state }

// Mapping returns the stored target kind for src, if any.
func (c *Controller) Mapping(src ilkind.Kind) (ilkind.Kind, bool) {
	k, ok := c.ilMap[src]
	return k, ok
}

// SetILSyncEnabled toggles IL-kind propagation. Re-enabling does not
// reconcile retroactively; the next IL-kind change does.
func (c *Controller) SetILSyncEnabled(on bool) { c.state.ILSync = on }

// SetLocationSyncEnabled toggles location/highlight propagation.
func (c *Controller) SetLocationSyncEnabled(on bool) { c.state.LocationSync = on }

// ToggleILSync flips IL-kind propagation and reports the new value.
func (c *Controller) ToggleILSync() bool {
	c.state.ILSync = !c.state.ILSync
	return c.state.ILSync
}

// ToggleLocationSync flips location propagation and reports the new value.
func (c *Controller) ToggleLocationSync() bool {
	c.state.LocationSync = !c.state.LocationSync
	return c.state.LocationSync
}

// ClearOverride re-arms automatic remapping. Manual mappings already
// stored in the table stay; they remain the default for their source
// kind until remapped again.
func (c *Controller) ClearOverride() { c.state.Override = false }

// OnSourceILKindChanged handles an IL-kind change on the source view.
//
// With sync on and no override in effect, the target follows: an
// existing table entry for the new source kind wins, otherwise a
// best-effort default is chosen and remembered. With override in
// effect, automatic default creation is suppressed, but a manual
// mapping the user stored for this source kind is still honored.
func (c *Controller) OnSourceILKindChanged(kind ilkind.Kind) {
	defer func() { c.state.LastSourceKind = kind }()

	if !c.state.ILSync {
		return
	}

	tk, mapped := c.ilMap[kind]
	if !mapped {
		if c.state.Override {
			// No stored mapping and automatic remapping is suspended:
			// leave the target alone, just track the source kind.
			slog.Debug("il sync suppressed by override", "source", kind)
			return
		}
		tk = ilkind.DefaultTarget(kind, c.target.SupportsKind)
		c.setMapping(kind, tk)
	}
	c.applyTargetKind(tk)
	slog.Debug("il sync applied", "source", kind, "target", tk, "override", c.state.Override)
}

// OnTargetILKindChanged handles a manual IL-kind change on the target
// view while synced. The choice is recorded as the mapping for the
// current source kind and survives subsequent source-side navigation;
// override suppresses snapping back to a default, never the user's own
// saved mapping.
func (c *Controller) OnTargetILKindChanged(kind ilkind.Kind) {
	if c.applying {
		return
	}
	c.state.Override = true
	c.setMapping(c.state.LastSourceKind, kind)
	c.state.LastTargetKind = kind
	slog.Debug("manual target mapping stored",
		"source", c.state.LastSourceKind, "target", kind)
}

// OnSourceLocationChanged handles a location/highlight change on the
// source view: the position is translated into the target's current
// representation and applied. A translation failure leaves the target's
// existing location untouched and never surfaces as an error.
func (c *Controller) OnSourceLocationChanged(loc viewloc.Location) {
	c.gen++
	c.genFunc = loc.Func

	if !c.state.LocationSync || loc.Func == nil {
		return
	}

	tloc, ok := c.translate(loc, c.target.ILKind())
	if !ok {
		return
	}
	c.target.ApplyLocation(tloc)
}

// Generation returns the stamp of the most recent source navigation.
// A deferred resolution started now must present this stamp (and the
// function it was computed for) to ApplyResolved later.
func (c *Controller) Generation() (uint64, *viewloc.FuncRef) {
	return c.gen, c.genFunc
}

// ApplyResolved applies a deferred cross-representation resolution. The
// result is discarded when the user has navigated again since it was
// requested, or when it was computed for a different function identity.
func (c *Controller) ApplyResolved(gen uint64, f *viewloc.FuncRef, loc viewloc.Location) bool {
	if gen != c.gen || f != c.genFunc {
		slog.Debug("stale resolution discarded", "gen", gen, "current", c.gen)
		return false
	}
	if !c.state.LocationSync {
		return false
	}
	return c.target.ApplyLocation(loc)
}

// translate maps loc into kind for the target view. The second return
// is false when the target must keep its current location.
func (c *Controller) translate(loc viewloc.Location, kind ilkind.Kind) (viewloc.Location, bool) {
	if !c.resolver.IsAnalyzed(loc.Func, kind) {
		slog.Debug("target representation not analyzed", "func", loc.Func.Name, "kind", kind)
		return viewloc.Location{}, false
	}
	pos, err := c.resolver.ResolvePosition(loc.Func, loc.Kind, loc.Pos, kind)
	if err != nil {
		if !errors.Is(err, ErrUnresolvable) {
			slog.Warn("position resolution failed", "func", loc.Func.Name, "error", err)
		}
		return viewloc.Location{}, false
	}

	out := viewloc.Location{Func: loc.Func, Kind: kind, Pos: pos}
	if loc.Highlight.Valid() && c.resolver.HasToken(loc.Func, kind, loc.Highlight) {
		// Same logical token exists over there; copy the state.
		out.Highlight = loc.Highlight
	}
	return out, true
}

func (c *Controller) applyTargetKind(kind ilkind.Kind) {
	c.applying = true
	c.target.SetILKind(kind)
	c.applying = false
	c.state.LastTargetKind = kind
}

func (c *Controller) setMapping(src, dst ilkind.Kind) {
	// Table invariant: both sides registered kinds.
	if !src.Valid() || !dst.Valid() {
		panic("viewsync: mapping with unregistered IL kind")
	}
	c.ilMap[src] = dst
}

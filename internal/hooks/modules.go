package hooks

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	glua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/fadectl/internal/fade"
	"github.com/dokzlo13/fadectl/internal/light"
)

// logLoader exposes structured logging to hook scripts.
func logLoader(L *glua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(luaLog(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(luaLog(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(luaLog(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(luaLog(log.Error)))

	L.Push(mod)
	return 1
}

func luaLog(eventFn func() *zerolog.Event) glua.LGFunction {
	return func(L *glua.LState) int {
		msg := L.CheckString(1)
		event := eventFn().Str("source", "hooks")
		if tbl, ok := L.Get(2).(*glua.LTable); ok {
			tbl.ForEach(func(k, v glua.LValue) {
				if ks, ok := k.(glua.LString); ok {
					event = event.Str(string(ks), v.String())
				}
			})
		}
		event.Msg(msg)
		return 0
	}
}

// fadeLoader exposes the fade controller and scene catalog to hook scripts.
func (r *Runner) fadeLoader(L *glua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "start", L.NewFunction(r.luaStart))
	L.SetField(mod, "apply", L.NewFunction(r.luaApply))
	L.SetField(mod, "apply_scene", L.NewFunction(r.luaApplyScene))
	L.SetField(mod, "abort", L.NewFunction(r.luaAbort))
	L.SetField(mod, "current", L.NewFunction(r.luaCurrent))
	L.SetField(mod, "is_active", L.NewFunction(r.luaIsActive))

	L.Push(mod)
	return 1
}

// fade.start{target={...}, duration_ms=N}
func (r *Runner) luaStart(L *glua.LState) int {
	tbl := L.CheckTable(1)

	params := &fade.Params{}
	if targetTbl, ok := L.GetField(tbl, "target").(*glua.LTable); ok {
		params.Target = stateFromLuaTable(L, targetTbl)
	}
	if ms, ok := L.GetField(tbl, "duration_ms").(glua.LNumber); ok {
		params.Duration = time.Duration(ms) * time.Millisecond
	}

	if err := r.ctrl.Start(params); err != nil {
		L.Push(glua.LString(err.Error()))
		return 1
	}
	L.Push(glua.LNil)
	return 1
}

// fade.apply{brightness=..., red=..., ...}
func (r *Runner) luaApply(L *glua.LState) int {
	state := stateFromLuaTable(L, L.CheckTable(1))
	if err := r.ctrl.ApplyImmediate(state); err != nil {
		L.Push(glua.LString(err.Error()))
		return 1
	}
	L.Push(glua.LNil)
	return 1
}

// fade.apply_scene(name[, duration_ms])
func (r *Runner) luaApplyScene(L *glua.LState) int {
	name := L.CheckString(1)

	sc, err := r.scenes.Get(name)
	if err != nil {
		L.Push(glua.LString(err.Error()))
		return 1
	}

	duration := sc.FadeTime
	if ms, ok := L.Get(2).(glua.LNumber); ok {
		duration = time.Duration(ms) * time.Millisecond
	}

	if err := r.ctrl.Start(&fade.Params{Target: sc.State, Duration: duration}); err != nil {
		L.Push(glua.LString(err.Error()))
		return 1
	}
	L.Push(glua.LNil)
	return 1
}

func (r *Runner) luaAbort(L *glua.LState) int {
	r.ctrl.Abort()
	return 0
}

func (r *Runner) luaCurrent(L *glua.LState) int {
	L.Push(stateToLuaTable(L, r.ctrl.Current()))
	return 1
}

func (r *Runner) luaIsActive(L *glua.LState) int {
	L.Push(glua.LBool(r.ctrl.IsActive()))
	return 1
}

func stateFromLuaTable(L *glua.LState, tbl *glua.LTable) light.State {
	var s light.State
	read := func(field string) uint8 {
		if n, ok := L.GetField(tbl, field).(glua.LNumber); ok {
			v := int(n)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			return uint8(v)
		}
		return 0
	}
	s.Brightness = read("brightness")
	s.Red = read("red")
	s.Green = read("green")
	s.Blue = read("blue")
	s.White = read("white")
	return s
}

func stateToLuaTable(L *glua.LState, s light.State) *glua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "brightness", glua.LNumber(s.Brightness))
	L.SetField(tbl, "red", glua.LNumber(s.Red))
	L.SetField(tbl, "green", glua.LNumber(s.Green))
	L.SetField(tbl, "blue", glua.LNumber(s.Blue))
	L.SetField(tbl, "white", glua.LNumber(s.White))
	return tbl
}

// mapToLuaTable converts event data to a Lua table.
func mapToLuaTable(L *glua.LState, m map[string]any) *glua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, goToLuaValue(L, v))
	}
	return tbl
}

func goToLuaValue(L *glua.LState, v any) glua.LValue {
	switch val := v.(type) {
	case nil:
		return glua.LNil
	case bool:
		return glua.LBool(val)
	case int:
		return glua.LNumber(val)
	case int64:
		return glua.LNumber(val)
	case uint8:
		return glua.LNumber(val)
	case float64:
		return glua.LNumber(val)
	case string:
		return glua.LString(val)
	case light.State:
		return stateToLuaTable(L, val)
	case map[string]any:
		return mapToLuaTable(L, val)
	default:
		return glua.LString(fmt.Sprint(v))
	}
}

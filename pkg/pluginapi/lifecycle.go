package pluginapi

import (
	"errors"
	"fmt"
	"reflect"
)

// Type задает жизненный цикл типа плагина T.
//
// Load и Unload относятся к типу, а не к уже выданному экземпляру: Load
// выполняется на свежевыделенном нулевом T до того, как экземпляр попадет
// к host, Unload ровно один раз при освобождении handle.
type Type[T any] interface {
	*T
	Plugin
	Load() error
	Unload() error
}

// Load создает новый экземпляр T и передает владение вызывающему.
// Это тело сгенерированного символа CreatePlugin.
func Load[T any, PT Type[T]]() (p Plugin, err error) {
	name := typeName[T]()
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, LoadError(name, fmt.Sprintf("panic during load: %v", r))
		}
	}()

	inst := PT(new(T))
	if err := inst.Load(); err != nil {
		return nil, Translate(KindLoad, name, err)
	}
	if err := CheckIdentity(inst); err != nil {
		if uerr := inst.Unload(); uerr != nil {
			return nil, errors.Join(err, Translate(KindResource, name, uerr))
		}
		return nil, err
	}
	return inst, nil
}

// Unload освобождает экземпляр, полученный от Load[T]. nil допустим и
// ничего не делает; экземпляр другого типа возвращает LoadError.
// Повторный вызов для того же экземпляра не отслеживается: это обязанность host.
func Unload[T any, PT Type[T]](p Plugin) (err error) {
	if p == nil {
		return nil
	}
	name := typeName[T]()
	inst, ok := p.(PT)
	if !ok {
		return LoadError("unload", fmt.Sprintf("handle of type %T is not a %s", p, name))
	}
	if (*T)(inst) == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = ResourceError(name, fmt.Sprintf("panic during unload: %v", r))
		}
	}()
	return Translate(KindResource, name, inst.Unload())
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
